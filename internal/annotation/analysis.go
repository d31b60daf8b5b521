package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Token is one OCR, hiragana or romaji token. Single-box analyses send plain
// strings; multi-box analyses send objects that carry the bubble position and
// may be separators between bubbles.
type Token struct {
	Text        string
	BubbleIndex *int
	Separator   bool
}

type tokenObject struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	BubbleIndex *int   `json:"bubbleIndex,omitempty"`
}

// TextToken builds a plain token.
func TextToken(text string) Token { return Token{Text: text} }

// MarshalJSON keeps the wire shape the token arrived in.
func (t Token) MarshalJSON() ([]byte, error) {
	if t.BubbleIndex == nil && !t.Separator {
		return json.Marshal(t.Text)
	}
	obj := tokenObject{Text: t.Text, BubbleIndex: t.BubbleIndex}
	if t.Separator {
		obj.Type = "separator"
		obj.Text = ""
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts either a JSON string or a token object.
func (t *Token) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*t = Token{Text: text}
		return nil
	}
	var obj tokenObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("annotation: token: %w", err)
	}
	*t = Token{Text: obj.Text, BubbleIndex: obj.BubbleIndex, Separator: obj.Type == "separator"}
	return nil
}

func (t Token) clone() Token {
	if t.BubbleIndex != nil {
		idx := *t.BubbleIndex
		t.BubbleIndex = &idx
	}
	return t
}

// AnalysisResult is the OCR + tokenization payload for one box or for a
// multi-box selection. BubbleBreakdown is only present for multi-box results
// and follows the order in which the boxes were selected.
type AnalysisResult struct {
	OCRText         string   `json:"ocr_text"`
	OCRTokens       []Token  `json:"ocr_tokens"`
	HiraganaTokens  []Token  `json:"hiragana_tokens"`
	RomajiTokens    []Token  `json:"romaji_tokens"`
	BubbleBreakdown []Bubble `json:"bubbleBreakdown,omitempty"`
}

// EmptyAnalysis is the reset shape shown when nothing is selected or cached.
func EmptyAnalysis() AnalysisResult {
	return AnalysisResult{
		OCRTokens:      []Token{},
		HiraganaTokens: []Token{},
		RomajiTokens:   []Token{},
	}
}

// IsEmpty reports whether the result carries no OCR tokens. Empty results are
// never cached.
func (r AnalysisResult) IsEmpty() bool { return len(r.OCRTokens) == 0 }

// Clone returns a deep copy.
func (r AnalysisResult) Clone() AnalysisResult {
	out := AnalysisResult{
		OCRText:        r.OCRText,
		OCRTokens:      cloneTokens(r.OCRTokens),
		HiraganaTokens: cloneTokens(r.HiraganaTokens),
		RomajiTokens:   cloneTokens(r.RomajiTokens),
	}
	if r.BubbleBreakdown != nil {
		out.BubbleBreakdown = make([]Bubble, len(r.BubbleBreakdown))
		for i, b := range r.BubbleBreakdown {
			out.BubbleBreakdown[i] = b.clone()
		}
	}
	return out
}

// Normalized replaces nil token lists with empty ones so the UI always sees
// arrays.
func (r AnalysisResult) Normalized() AnalysisResult {
	if r.OCRTokens == nil {
		r.OCRTokens = []Token{}
	}
	if r.HiraganaTokens == nil {
		r.HiraganaTokens = []Token{}
	}
	if r.RomajiTokens == nil {
		r.RomajiTokens = []Token{}
	}
	return r
}

// Bubble is the slice of a multi-box analysis that belongs to one box.
type Bubble struct {
	BubbleIndex    int     `json:"bubbleIndex"`
	OCRText        string  `json:"ocr_text"`
	OCRTokens      []Token `json:"ocr_tokens"`
	HiraganaTokens []Token `json:"hiragana_tokens"`
	RomajiTokens   []Token `json:"romaji_tokens"`
}

// Analysis turns the bubble into the single-box result shape.
func (b Bubble) Analysis() AnalysisResult {
	return AnalysisResult{
		OCRText:        b.OCRText,
		OCRTokens:      cloneTokens(b.OCRTokens),
		HiraganaTokens: cloneTokens(b.HiraganaTokens),
		RomajiTokens:   cloneTokens(b.RomajiTokens),
	}.Normalized()
}

func (b Bubble) clone() Bubble {
	b.OCRTokens = cloneTokens(b.OCRTokens)
	b.HiraganaTokens = cloneTokens(b.HiraganaTokens)
	b.RomajiTokens = cloneTokens(b.RomajiTokens)
	return b
}

func cloneTokens(in []Token) []Token {
	if in == nil {
		return nil
	}
	out := make([]Token, len(in))
	for i, t := range in {
		out[i] = t.clone()
	}
	return out
}
