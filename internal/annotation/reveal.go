package annotation

import (
	"fmt"
	"strings"
)

// TokenKind names one of the three token rows that can be hidden as spoilers.
type TokenKind string

const (
	TokenOCR      TokenKind = "ocr"
	TokenHiragana TokenKind = "hiragana"
	TokenRomaji   TokenKind = "romaji"
)

// ParseTokenKind accepts the lower-case kind names used on the wire.
func ParseTokenKind(value string) (TokenKind, error) {
	switch kind := TokenKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case TokenOCR, TokenHiragana, TokenRomaji:
		return kind, nil
	default:
		return "", fmt.Errorf("annotation: unknown token kind %q", value)
	}
}

// TokenReveal records which rows of one token are uncovered.
type TokenReveal struct {
	OCR      bool `json:"ocr"`
	Hiragana bool `json:"hiragana"`
	Romaji   bool `json:"romaji"`
}

// With returns a copy with the given row set to revealed.
func (r TokenReveal) With(kind TokenKind, revealed bool) TokenReveal {
	switch kind {
	case TokenOCR:
		r.OCR = revealed
	case TokenHiragana:
		r.Hiragana = revealed
	case TokenRomaji:
		r.Romaji = revealed
	}
	return r
}

// Reveals maps token positions to their reveal flags.
type Reveals map[int]TokenReveal

// Clone copies the map; a nil map clones to an empty one.
func (r Reveals) Clone() Reveals {
	out := make(Reveals, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
