package parser

import (
	"regexp"
	"strings"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/solana"
)

// Rule is one named extraction pattern. Rules run in slice order; the first
// rule to produce a value for a field wins, and a matched span is consumed so
// lower-priority rules cannot reuse the same text.
type Rule struct {
	Name    string
	Field   string
	Pattern *regexp.Regexp
	// Extract turns submatches into a normalized value, or rejects the match.
	Extract func(groups []string) (string, bool)
}

const (
	base58Class = `[1-9A-HJ-NP-Za-km-z]`
	// amount captures the number in group 1 and an optional K/M/B unit in group 2.
	amount = `\$?\s*((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)(?:\s?([KkMmBb]))?\b`
)

// DefaultRules returns the built-in extraction rules in priority order.
//
// Dollar amounts are disambiguated as follows: labelled amounts ("Price:",
// "MC:", "Vol:") are taken first; an unlabelled "$X" without a unit is a price
// candidate and an unlabelled "$X" with a K/M/B unit is a market cap
// candidate. Volume is only read from a labelled amount.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "ca_labelled",
			Field:   domain.FieldContractAddress,
			Pattern: regexp.MustCompile(`(?i)\b(?:ca|contract|address|mint)\s*[:=]\s*(` + base58Class + `{32,44})\b`),
			Extract: addressGroup,
		},
		{
			Name:    "ca_bare",
			Field:   domain.FieldContractAddress,
			Pattern: regexp.MustCompile(`\b(` + base58Class + `{32,44})\b`),
			Extract: addressGroup,
		},
		{
			Name:    "symbol_labelled",
			Field:   domain.FieldSymbol,
			Pattern: regexp.MustCompile(`(?i)\b(?:ticker|symbol|token)\s*[:=]\s*\$?([A-Za-z][A-Za-z0-9]{1,14})\b`),
			Extract: symbolGroup,
		},
		{
			Name:    "symbol_cashtag",
			Field:   domain.FieldSymbol,
			Pattern: regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9]{1,14})\b`),
			Extract: symbolGroup,
		},
		{
			Name:    "price_labelled",
			Field:   domain.FieldPrice,
			// entry and px only count with a separator or a dollar sign.
			Pattern: regexp.MustCompile(`(?i)\b(?:price\s*[:=]?|(?:entry|px)\s*(?:[:=]|\$))\s*` + amount),
			Extract: amountGroup(anyUnit),
		},
		{
			Name:    "mcap_labelled",
			Field:   domain.FieldMarketCap,
			Pattern: regexp.MustCompile(`(?i)\b(?:market\s*cap|mcap|mc)\s*[:=]?\s*` + amount),
			Extract: amountGroup(anyUnit),
		},
		{
			Name:    "volume_labelled",
			Field:   domain.FieldVolume,
			Pattern: regexp.MustCompile(`(?i)\b(?:24h\s*vol(?:ume)?|volume|vol)\s*[:=]?\s*` + amount),
			Extract: amountGroup(anyUnit),
		},
		{
			Name:    "price_unlabelled",
			Field:   domain.FieldPrice,
			Pattern: regexp.MustCompile(`\$\s?((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)(?:\s?([KkMmBb]))?\b`),
			Extract: amountGroup(noUnit),
		},
		{
			Name:    "mcap_unlabelled",
			Field:   domain.FieldMarketCap,
			Pattern: regexp.MustCompile(`\$\s?((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)(?:\s?([KkMmBb]))?\b`),
			Extract: amountGroup(withUnit),
		},
	}
}

func addressGroup(groups []string) (string, bool) {
	addr := groups[1]
	if !solana.IsValidAddress(addr) {
		return "", false
	}
	return addr, true
}

// symbolGroup uppercases the symbol; a leading "$" is never captured.
func symbolGroup(groups []string) (string, bool) {
	return strings.ToUpper(groups[1]), true
}

type unitPolicy int

const (
	anyUnit unitPolicy = iota
	noUnit
	withUnit
)

func amountGroup(policy unitPolicy) func([]string) (string, bool) {
	return func(groups []string) (string, bool) {
		unit := ""
		if len(groups) > 2 {
			unit = strings.ToUpper(groups[2])
		}
		switch {
		case policy == noUnit && unit != "":
			return "", false
		case policy == withUnit && unit == "":
			return "", false
		}

		value := strings.ReplaceAll(groups[1], ",", "") + unit
		if _, err := domain.ParseAmount(value); err != nil {
			return "", false
		}
		return value, true
	}
}
