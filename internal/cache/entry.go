package cache

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/Njaecha/manga-helper/internal/address"
	"github.com/Njaecha/manga-helper/internal/annotation"
)

// Record is a namespace value carrying its own write timestamp in Unix
// milliseconds. StampedAt must tolerate a nil receiver; nil records count as
// absent.
type Record[R any] interface {
	StampedAt() int64
	Stamp(ms int64)
	Clone() R
}

// PageEntry is everything remembered about one page image.
type PageEntry struct {
	DetectedBoxes      []annotation.Box `json:"detectedBoxes"`
	CustomBoxes        []annotation.Box `json:"customBoxes"`
	SelectedBoxIndices []int            `json:"selectedBoxIndices"`
	// LegacySelectedBoxIndex is the scalar selection written before
	// multi-selection existed. It is read for migration and never written.
	LegacySelectedBoxIndex *int                                 `json:"selectedBoxIndex,omitempty"`
	RevealedTokens         annotation.Reveals                   `json:"revealedTokens"`
	Analyses               map[string]annotation.AnalysisResult `json:"analyses"`
	StreamingTranslations  map[string]annotation.Translation    `json:"streamingTranslations"`
	Timestamp              int64                                `json:"timestamp"`
}

// NewPageEntry returns an empty entry with every collection allocated.
func NewPageEntry() *PageEntry {
	return &PageEntry{
		DetectedBoxes:         []annotation.Box{},
		CustomBoxes:           []annotation.Box{},
		SelectedBoxIndices:    []int{},
		RevealedTokens:        annotation.Reveals{},
		Analyses:              map[string]annotation.AnalysisResult{},
		StreamingTranslations: map[string]annotation.Translation{},
	}
}

func (e *PageEntry) StampedAt() int64 {
	if e == nil {
		return 0
	}
	return e.Timestamp
}

func (e *PageEntry) Stamp(ms int64) { e.Timestamp = ms }

// Selection resolves the stored selection, migrating the legacy scalar.
func (e *PageEntry) Selection() []int {
	return address.NormalizeSelection(e.SelectedBoxIndices, e.LegacySelectedBoxIndex)
}

// Analysis looks up the analysis cached for a selection.
func (e *PageEntry) Analysis(selection []int) (annotation.AnalysisResult, bool) {
	addr, ok := address.For(selection)
	if !ok {
		return annotation.AnalysisResult{}, false
	}
	result, ok := e.Analyses[addr.Key()]
	if !ok {
		return annotation.AnalysisResult{}, false
	}
	return result.Clone().Normalized(), true
}

// Translation looks up the translation cached for a selection.
func (e *PageEntry) Translation(selection []int) (annotation.Translation, bool) {
	addr, ok := address.For(selection)
	if !ok {
		return annotation.Translation{}, false
	}
	t, ok := e.StreamingTranslations[addr.Key()]
	return t, ok
}

// Clone deep-copies the entry, normalizing nil collections and folding the
// legacy selection into SelectedBoxIndices.
func (e *PageEntry) Clone() *PageEntry {
	if e == nil {
		return nil
	}
	out := &PageEntry{
		DetectedBoxes:         cloneBoxes(e.DetectedBoxes),
		CustomBoxes:           cloneBoxes(e.CustomBoxes),
		SelectedBoxIndices:    e.Selection(),
		RevealedTokens:        e.RevealedTokens.Clone(),
		Analyses:              make(map[string]annotation.AnalysisResult, len(e.Analyses)),
		StreamingTranslations: maps.Clone(e.StreamingTranslations),
		Timestamp:             e.Timestamp,
	}
	for k, v := range e.Analyses {
		out.Analyses[k] = v.Clone()
	}
	if out.StreamingTranslations == nil {
		out.StreamingTranslations = map[string]annotation.Translation{}
	}
	return out
}

// MarshalJSON always writes the list selection and never the legacy scalar.
func (e PageEntry) MarshalJSON() ([]byte, error) {
	type plain PageEntry
	out := plain(e)
	out.SelectedBoxIndices = address.NormalizeSelection(e.SelectedBoxIndices, e.LegacySelectedBoxIndex)
	out.LegacySelectedBoxIndex = nil
	if out.DetectedBoxes == nil {
		out.DetectedBoxes = []annotation.Box{}
	}
	if out.CustomBoxes == nil {
		out.CustomBoxes = []annotation.Box{}
	}
	if out.RevealedTokens == nil {
		out.RevealedTokens = annotation.Reveals{}
	}
	if out.Analyses == nil {
		out.Analyses = map[string]annotation.AnalysisResult{}
	}
	if out.StreamingTranslations == nil {
		out.StreamingTranslations = map[string]annotation.Translation{}
	}
	return json.Marshal(out)
}

// WordEntry caches one word-info lookup. Data is kept opaque.
type WordEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (e *WordEntry) StampedAt() int64 {
	if e == nil {
		return 0
	}
	return e.Timestamp
}

func (e *WordEntry) Stamp(ms int64) { e.Timestamp = ms }

func (e *WordEntry) Clone() *WordEntry {
	if e == nil {
		return nil
	}
	return &WordEntry{Data: slices.Clone(e.Data), Timestamp: e.Timestamp}
}

// Meta describes the persisted cache as a whole.
type Meta struct {
	Version        string `json:"version"`
	Created        int64  `json:"created"`
	LastAccessed   int64  `json:"lastAccessed"`
	TotalEntries   int    `json:"totalEntries"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
}

func cloneBoxes(in []annotation.Box) []annotation.Box {
	if in == nil {
		return []annotation.Box{}
	}
	return slices.Clone(in)
}
