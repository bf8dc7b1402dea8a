package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultRepeatThreshold is the number of identical outputs that force a closure.
	DefaultRepeatThreshold = 5
	// DefaultTerminalPunctuation lists the sentence-terminal symbols, ASCII and full-width.
	DefaultTerminalPunctuation = ".!?。！？~"
)

// Reason explains why an utterance was closed.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonRepeat      Reason = "repeat"
	ReasonPunctuation Reason = "punctuation"
)

// Decision is the boundary verdict for one recognition result.
type Decision struct {
	Close  bool   `json:"close"`
	Reason Reason `json:"reason,omitempty"`
}

// Policy applies the closure rules in precedence order: repeat, punctuation, continue.
type Policy struct {
	repeatThreshold int
	terminals       map[rune]struct{}
}

// NewPolicy creates a boundary policy. terminals is the set of runes that end a sentence.
func NewPolicy(repeatThreshold int, terminals string) (*Policy, error) {
	if repeatThreshold < 1 {
		return nil, fmt.Errorf("repeat threshold must be at least 1, got %d", repeatThreshold)
	}
	if terminals == "" {
		return nil, fmt.Errorf("terminal punctuation set cannot be empty")
	}

	set := make(map[rune]struct{}, utf8.RuneCountInString(terminals))
	for _, r := range terminals {
		if unicode.IsSpace(r) {
			continue
		}
		set[r] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("terminal punctuation set cannot be only whitespace")
	}

	return &Policy{repeatThreshold: repeatThreshold, terminals: set}, nil
}

// Decide returns the closure decision for text given the repeat detector count.
// Only one rule fires; empty text never closes.
func (p *Policy) Decide(text string, repeatCount int) Decision {
	if strings.TrimSpace(text) == "" {
		return Decision{}
	}
	if repeatCount >= p.repeatThreshold {
		return Decision{Close: true, Reason: ReasonRepeat}
	}
	if p.EndsWithTerminal(text) {
		return Decision{Close: true, Reason: ReasonPunctuation}
	}
	return Decision{}
}

// EndsWithTerminal reports whether the last non-space rune of text is terminal punctuation.
func (p *Policy) EndsWithTerminal(text string) bool {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if text == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	_, ok := p.terminals[r]
	return ok
}

// RepeatThreshold returns the configured repeat limit.
func (p *Policy) RepeatThreshold() int {
	return p.repeatThreshold
}
