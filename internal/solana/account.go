package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/mr-tron/base58"
)

// Mint is a decoded SPL Token mint account.
type Mint struct {
	MintAuthority   *string
	FreezeAuthority *string
	Supply          uint64
	Decimals        int
}

// UISupply returns supply adjusted for decimals.
func (m *Mint) UISupply() float64 {
	return float64(m.Supply) / math.Pow(10, float64(m.Decimals))
}

// ParseMint decodes SPL Token Mint account data (base64).
// Layout (82 bytes):
//   - mintAuthority: COption<Pubkey> (4 + 32)
//   - supply: u64
//   - decimals: u8
//   - isInitialized: bool
//   - freezeAuthority: COption<Pubkey> (4 + 32)
func ParseMint(data string) (*Mint, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode mint data: %w", err)
	}
	if len(decoded) < 82 {
		return nil, fmt.Errorf("mint data too short: %d", len(decoded))
	}

	m := &Mint{
		MintAuthority:   parseCOptionPubkey(decoded[0:36]),
		Supply:          binary.LittleEndian.Uint64(decoded[36:44]),
		Decimals:        int(decoded[44]),
		FreezeAuthority: parseCOptionPubkey(decoded[46:82]),
	}
	return m, nil
}

func parseCOptionPubkey(b []byte) *string {
	if binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return nil
	}
	key := base58.Encode(b[4:36])
	return &key
}

// TokenMetadata is the subset of a Metaplex metadata account we use.
type TokenMetadata struct {
	Name   string
	Symbol string
}

// ParseMetadata decodes a Metaplex Token Metadata account (base64).
// Layout: key u8 (4 = MetadataV1) | updateAuthority (32) | mint (32) |
// name (borsh string) | symbol (borsh string) | uri | ...
func ParseMetadata(data string) (*TokenMetadata, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(decoded) < 69 {
		return nil, fmt.Errorf("metadata too short: %d", len(decoded))
	}
	if decoded[0] != 4 {
		return nil, fmt.Errorf("unexpected metadata key %d", decoded[0])
	}

	offset := 65
	name, offset, err := readBorshString(decoded, offset, 100)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	symbol, _, err := readBorshString(decoded, offset, 20)
	if err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}

	return &TokenMetadata{Name: name, Symbol: symbol}, nil
}

func readBorshString(b []byte, offset, maxLen int) (string, int, error) {
	if offset+4 > len(b) {
		return "", offset, fmt.Errorf("truncated length at %d", offset)
	}
	n := int(binary.LittleEndian.Uint32(b[offset:]))
	offset += 4
	if n > maxLen || offset+n > len(b) {
		return "", offset, fmt.Errorf("bad length %d", n)
	}
	s := strings.TrimRight(string(b[offset:offset+n]), "\x00")
	return strings.TrimSpace(s), offset + n, nil
}
