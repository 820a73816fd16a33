// Package parser extracts structured signal fields from free-text channel messages.
package parser

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"memecoin-signal-lab/internal/domain"
)

// ErrEmptyMessage is returned for empty or whitespace-only input.
var ErrEmptyMessage = errors.New("empty message")

// DefaultMinLength is the message length (in characters) above which a
// message counts as substantive for parse confidence.
const DefaultMinLength = 50

// DefaultHypeWords is the vocabulary checked for parse confidence.
// Emoji are deliberately absent: "🚀" alone does not satisfy the check.
var DefaultHypeWords = []string{
	"gem", "moon", "moonshot", "100x", "1000x", "launch", "launched", "launching",
	"stealth", "presale", "pump", "ape", "lfg", "alpha", "runner",
}

// Parser applies an ordered rule list to inbound messages.
//
// ParseConfidence is a heuristic checklist score, not a statistical estimate:
// the fraction of {contract address found, symbol found, message longer than
// MinLength characters, hype word present} that holds.
type Parser struct {
	rules     []Rule
	minLength int
	hype      *regexp.Regexp
}

// Option configures a Parser.
type Option func(*Parser)

// WithRules replaces the rule list.
func WithRules(rules []Rule) Option {
	return func(p *Parser) {
		p.rules = rules
	}
}

// WithHypeWords replaces the hype vocabulary.
func WithHypeWords(words []string) Option {
	return func(p *Parser) {
		p.hype = compileHype(words)
	}
}

// WithMinLength sets the substantive-length threshold.
func WithMinLength(n int) Option {
	return func(p *Parser) {
		p.minLength = n
	}
}

// New creates a Parser with DefaultRules and DefaultHypeWords.
func New(opts ...Option) *Parser {
	p := &Parser{
		rules:     DefaultRules(),
		minLength: DefaultMinLength,
		hype:      compileHype(DefaultHypeWords),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rules returns the rule names in priority order.
func (p *Parser) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// compileHype builds one case-insensitive matcher; words must stand alone,
// bounded by non-alphanumerics or the ends of the text.
func compileHype(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// Parse extracts fields from text. Missing fields are simply absent;
// only empty input is an error.
func (p *Parser) Parse(text, channel string, receivedAt time.Time) (*domain.RawSignal, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	fields := make(map[string]string)
	var consumed []span

	for _, rule := range p.rules {
		if _, done := fields[rule.Field]; done {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
			s := span{loc[0], loc[1]}
			if overlapsAny(s, consumed) {
				continue
			}
			value, ok := rule.Extract(submatches(text, loc))
			if !ok {
				continue
			}
			fields[rule.Field] = value
			consumed = append(consumed, s)
			break
		}
	}

	return &domain.RawSignal{
		Channel:         strings.TrimSpace(channel),
		Text:            text,
		ReceivedAt:      receivedAt,
		Fields:          fields,
		ParseConfidence: p.confidence(text, fields),
	}, nil
}

func (p *Parser) confidence(text string, fields map[string]string) float64 {
	satisfied := 0
	if _, ok := fields[domain.FieldContractAddress]; ok {
		satisfied++
	}
	if _, ok := fields[domain.FieldSymbol]; ok {
		satisfied++
	}
	if utf8.RuneCountInString(text) > p.minLength {
		satisfied++
	}
	if p.hype != nil && p.hype.MatchString(text) {
		satisfied++
	}
	return float64(satisfied) / 4
}

func overlapsAny(s span, spans []span) bool {
	for _, o := range spans {
		if s.overlaps(o) {
			return true
		}
	}
	return false
}

func submatches(text string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return groups
}
