package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Extracted field keys on RawSignal.Fields.
const (
	FieldSymbol          = "symbol"
	FieldContractAddress = "contract_address"
	FieldPrice           = "price"
	FieldMarketCap       = "market_cap"
	FieldVolume          = "volume"
)

// RawSignal represents one parsed channel message.
// Corresponds to raw_signals table in PostgreSQL.
// Immutable after creation except for CoinAddress, which is set once
// the signal has been merged into a coin record.
type RawSignal struct {
	ID              int64             `json:"id"`                     // autoincrement id, 0 until stored
	Channel         string            `json:"channel"`                // source channel
	Text            string            `json:"text"`                   // raw message text
	ReceivedAt      time.Time         `json:"received_at"`            // receipt timestamp
	Fields          map[string]string `json:"fields"`                 // extracted fields, any subset may be absent
	ParseConfidence float64           `json:"parse_confidence"`       // checklist heuristic in [0,1]
	CoinAddress     *string           `json:"coin_address,omitempty"` // FK to coins (nullable)
}

// Field returns an extracted field and whether it was present.
func (s *RawSignal) Field(key string) (string, bool) {
	if s == nil || s.Fields == nil {
		return "", false
	}
	v, ok := s.Fields[key]
	return v, ok
}

// Symbol returns the normalized symbol, or "" if absent.
func (s *RawSignal) Symbol() string {
	v, _ := s.Field(FieldSymbol)
	return v
}

// ContractAddress returns the extracted contract address, or "" if absent.
func (s *RawSignal) ContractAddress() string {
	v, _ := s.Field(FieldContractAddress)
	return v
}

// Price returns the quoted price in USD.
func (s *RawSignal) Price() (float64, bool) {
	return s.amount(FieldPrice)
}

// MarketCap returns the quoted market cap in USD with K/M/B expanded.
func (s *RawSignal) MarketCap() (float64, bool) {
	return s.amount(FieldMarketCap)
}

// Volume returns the quoted volume in USD with K/M/B expanded.
func (s *RawSignal) Volume() (float64, bool) {
	return s.amount(FieldVolume)
}

func (s *RawSignal) amount(key string) (float64, bool) {
	raw, ok := s.Field(key)
	if !ok {
		return 0, false
	}
	d, err := ParseAmount(raw)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// multipliers for market shorthand suffixes.
var multipliers = map[byte]decimal.Decimal{
	'K': decimal.NewFromInt(1_000),
	'M': decimal.NewFromInt(1_000_000),
	'B': decimal.NewFromInt(1_000_000_000),
}

// ParseAmount parses a dollar amount such as "0.00001234", "1,250", "50M" or "1.2b".
// Thousands separators are ignored and the K/M/B suffix is expanded.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; c {
		case ',', ' ', '$':
		default:
			s = append(s, c)
		}
	}
	if len(s) == 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	mult := decimal.NewFromInt(1)
	last := s[len(s)-1]
	if last >= 'a' && last <= 'z' {
		last -= 'a' - 'A'
	}
	if m, ok := multipliers[last]; ok {
		mult = m
		s = s[:len(s)-1]
	}

	d, err := decimal.NewFromString(string(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Mul(mult), nil
}
