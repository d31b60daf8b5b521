// Package state holds the live, observable view of the page being annotated.
// It knows nothing about persistence; the session decides when state is saved
// to or restored from the cache.
package state

import (
	"slices"
	"sync"

	"github.com/Njaecha/manga-helper/internal/annotation"
)

// Change names the field a mutation touched.
type Change string

const (
	ChangeFolder    Change = "folder"
	ChangeImages    Change = "images"
	ChangeCurrent   Change = "currentIndex"
	ChangeBoxes     Change = "boxes"
	ChangeSelection Change = "selectedBoxIndices"
	ChangeAnalysis  Change = "analysisResult"
	ChangeStreaming Change = "streamingTranslation"
	ChangeRevealed  Change = "revealedTokens"
)

// Store is the reactive state container. Reads are safe from any goroutine;
// subscribers run synchronously on the mutating goroutine after the lock is
// released, so they may read the store.
type Store struct {
	mu        sync.RWMutex
	folder    string
	images    []string
	current   int
	boxes     annotation.BoxList
	selection []int
	analysis  annotation.AnalysisResult
	streaming annotation.Streaming
	revealed  annotation.Reveals

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

func New() *Store {
	return &Store{
		images:    []string{},
		selection: []int{},
		analysis:  annotation.EmptyAnalysis(),
		revealed:  annotation.Reveals{},
		subs:      make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every change. The returned function removes it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(changes ...Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
	}
}

// mutate runs fn under the write lock and then notifies the changes fn
// reports.
func (s *Store) mutate(fn func() []Change) {
	s.mu.Lock()
	changes := fn()
	s.mu.Unlock()
	if len(changes) > 0 {
		s.notify(changes...)
	}
}

// SetFolder switches the open folder and moves to its first image.
func (s *Store) SetFolder(path string, images []string) {
	s.mutate(func() []Change {
		s.folder = path
		s.images = slices.Clone(images)
		if s.images == nil {
			s.images = []string{}
		}
		s.current = 0
		return []Change{ChangeFolder, ChangeImages, ChangeCurrent}
	})
}

// SetCurrentIndex moves the page pointer. Bounds are the caller's concern.
func (s *Store) SetCurrentIndex(index int) {
	s.mutate(func() []Change {
		s.current = index
		return []Change{ChangeCurrent}
	})
}

// SetBoxes replaces both box segments without touching the selection.
func (s *Store) SetBoxes(detected, custom []annotation.Box) {
	s.mutate(func() []Change {
		s.boxes = annotation.NewBoxList(detected, custom)
		return []Change{ChangeBoxes}
	})
}

// SetDetected replaces the detected segment. Custom boxes shift, so the
// selection is cleared.
func (s *Store) SetDetected(boxes []annotation.Box) {
	s.mutate(func() []Change {
		s.boxes.SetDetected(boxes)
		s.selection = []int{}
		return []Change{ChangeBoxes, ChangeSelection}
	})
}

// AddCustom appends a user-drawn box and returns its index.
func (s *Store) AddCustom(box annotation.Box) int {
	var index int
	s.mutate(func() []Change {
		index = s.boxes.AddCustom(box)
		return []Change{ChangeBoxes}
	})
	return index
}

// RemoveBox deletes a box and clears the selection. ok is false when index
// addresses no box.
func (s *Store) RemoveBox(index int) (reindex annotation.Reindex, ok bool) {
	s.mutate(func() []Change {
		reindex, ok = s.boxes.Remove(index)
		if !ok {
			return nil
		}
		s.selection = []int{}
		return []Change{ChangeBoxes, ChangeSelection}
	})
	return reindex, ok
}

// Click applies the selection toggle. A plain click selects only index, or
// deselects it when it already is the sole selection. A multi click adds or
// removes index and keeps the order of the rest. Clicks on indices that
// address no box are ignored. The resulting selection is returned.
func (s *Store) Click(index int, multi bool) []int {
	var out []int
	s.mutate(func() []Change {
		if !s.boxes.Contains(index) {
			out = slices.Clone(s.selection)
			return nil
		}
		switch {
		case multi && slices.Contains(s.selection, index):
			s.selection = slices.DeleteFunc(slices.Clone(s.selection), func(i int) bool { return i == index })
		case multi:
			s.selection = append(slices.Clone(s.selection), index)
		case len(s.selection) == 1 && s.selection[0] == index:
			s.selection = []int{}
		default:
			s.selection = []int{index}
		}
		out = slices.Clone(s.selection)
		return []Change{ChangeSelection}
	})
	return out
}

// SetSelection replaces the selection verbatim.
func (s *Store) SetSelection(selection []int) {
	s.mutate(func() []Change {
		s.selection = slices.Clone(selection)
		if s.selection == nil {
			s.selection = []int{}
		}
		return []Change{ChangeSelection}
	})
}

func (s *Store) ClearSelection() { s.SetSelection(nil) }

// SetAnalysis shows a fresh result. Reveal flags belong to the previous
// tokens and are reset.
func (s *Store) SetAnalysis(result annotation.AnalysisResult) {
	s.mutate(func() []Change {
		s.analysis = result.Clone().Normalized()
		s.revealed = annotation.Reveals{}
		return []Change{ChangeAnalysis, ChangeRevealed}
	})
}

// ShowAnalysis displays a result without touching reveal flags, as when a
// cached result is restored.
func (s *Store) ShowAnalysis(result annotation.AnalysisResult) {
	s.mutate(func() []Change {
		s.analysis = result.Clone().Normalized()
		return []Change{ChangeAnalysis}
	})
}

func (s *Store) ClearAnalysis() { s.ShowAnalysis(annotation.EmptyAnalysis()) }

// StartStreaming resets the accumulator for a new stream. Any stream still
// running is superseded.
func (s *Store) StartStreaming() {
	s.SetStreaming(annotation.Streaming{IsStreaming: true})
}

// AppendChunk adds a chunk to the running stream. ok is false, and nothing
// changes, when no stream is running: a superseded stream's late chunks are
// dropped.
func (s *Store) AppendChunk(chunk annotation.StreamChunk) (ok bool) {
	s.mutate(func() []Change {
		if !s.streaming.IsStreaming {
			return nil
		}
		s.streaming = s.streaming.Append(chunk)
		ok = true
		return []Change{ChangeStreaming}
	})
	return ok
}

// EndStreaming marks the running stream finished and returns its text. ok is
// false when no stream was running.
func (s *Store) EndStreaming() (done annotation.Streaming, ok bool) {
	s.mutate(func() []Change {
		if !s.streaming.IsStreaming {
			return nil
		}
		s.streaming.IsStreaming = false
		done, ok = s.streaming, true
		return []Change{ChangeStreaming}
	})
	return done, ok
}

// StreamError stops the stream and records the failure message.
func (s *Store) StreamError(message string) {
	s.mutate(func() []Change {
		s.streaming.IsStreaming = false
		s.streaming.Error = message
		return []Change{ChangeStreaming}
	})
}

func (s *Store) SetStreaming(streaming annotation.Streaming) {
	s.mutate(func() []Change {
		s.streaming = streaming
		return []Change{ChangeStreaming}
	})
}

func (s *Store) ClearStreaming() { s.SetStreaming(annotation.Streaming{}) }

// SetRevealed replaces the reveal flags.
func (s *Store) SetRevealed(revealed annotation.Reveals) {
	s.mutate(func() []Change {
		s.revealed = revealed.Clone()
		return []Change{ChangeRevealed}
	})
}

// Reveal sets one row of one token.
func (s *Store) Reveal(index int, kind annotation.TokenKind) {
	s.mutate(func() []Change {
		next := s.revealed.Clone()
		next[index] = next[index].With(kind, true)
		s.revealed = next
		return []Change{ChangeRevealed}
	})
}

// Hide clears one row of one token. Tokens without flags stay absent.
func (s *Store) Hide(index int, kind annotation.TokenKind) {
	s.mutate(func() []Change {
		flags, ok := s.revealed[index]
		if !ok {
			return nil
		}
		next := s.revealed.Clone()
		next[index] = flags.With(kind, false)
		s.revealed = next
		return []Change{ChangeRevealed}
	})
}

// SetAllOfKind sets one row for tokens [0, count) and keeps the other rows.
// Flags for tokens at or past count are dropped.
func (s *Store) SetAllOfKind(kind annotation.TokenKind, count int, revealed bool) {
	s.mutate(func() []Change {
		next := make(annotation.Reveals, max(count, 0))
		for i := 0; i < count; i++ {
			next[i] = s.revealed[i].With(kind, revealed)
		}
		s.revealed = next
		return []Change{ChangeRevealed}
	})
}

// RevealAll uncovers every row of tokens [0, count).
func (s *Store) RevealAll(count int) {
	s.mutate(func() []Change {
		next := make(annotation.Reveals, max(count, 0))
		for i := 0; i < count; i++ {
			next[i] = annotation.TokenReveal{OCR: true, Hiragana: true, Romaji: true}
		}
		s.revealed = next
		return []Change{ChangeRevealed}
	})
}

func (s *Store) HideAll() { s.SetRevealed(nil) }

// Reset clears everything derived from the current page: boxes, selection,
// analysis, reveal flags and the stream accumulator.
func (s *Store) Reset() {
	s.mutate(func() []Change {
		s.boxes = annotation.BoxList{}
		s.selection = []int{}
		s.analysis = annotation.EmptyAnalysis()
		s.revealed = annotation.Reveals{}
		s.streaming = annotation.Streaming{}
		return []Change{ChangeBoxes, ChangeSelection, ChangeAnalysis, ChangeRevealed, ChangeStreaming}
	})
}

func (s *Store) Folder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folder
}

func (s *Store) Images() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.images)
}

func (s *Store) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CurrentImage is the image under the page pointer, or "" when there is none.
func (s *Store) CurrentImage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentImage()
}

func (s *Store) currentImage() string {
	if s.current < 0 || s.current >= len(s.images) {
		return ""
	}
	return s.images[s.current]
}

// Boxes returns a copy of the box list.
func (s *Store) Boxes() annotation.BoxList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return annotation.NewBoxList(s.boxes.Detected(), s.boxes.Custom())
}

func (s *Store) Selection() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.selection)
}

// PrimarySelection is the first selected box.
func (s *Store) PrimarySelection() (annotation.TaggedBox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.selection) == 0 {
		return annotation.TaggedBox{}, false
	}
	return s.boxes.At(s.selection[0])
}

// SelectedBoxes resolves the selection in selection order, skipping indices
// that no longer address a box.
func (s *Store) SelectedBoxes() []annotation.TaggedBox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedBoxes()
}

func (s *Store) selectedBoxes() []annotation.TaggedBox {
	out := make([]annotation.TaggedBox, 0, len(s.selection))
	for _, index := range s.selection {
		if box, ok := s.boxes.At(index); ok {
			out = append(out, box)
		}
	}
	return out
}

func (s *Store) Analysis() annotation.AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analysis.Clone()
}

func (s *Store) Streaming() annotation.Streaming {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

func (s *Store) Revealed() annotation.Reveals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revealed.Clone()
}

// Snapshot is the full state as the UI renders it.
type Snapshot struct {
	Folder             string                    `json:"folder"`
	Images             []string                  `json:"images"`
	CurrentIndex       int                       `json:"currentIndex"`
	CurrentImage       string                    `json:"currentImage"`
	Boxes              []annotation.TaggedBox    `json:"boxes"`
	DetectedCount      int                       `json:"detectedCount"`
	SelectedBoxIndices []int                     `json:"selectedBoxIndices"`
	SelectedBox        *annotation.TaggedBox     `json:"selectedBox"`
	SelectedBoxes      []annotation.TaggedBox    `json:"selectedBoxes"`
	Analysis           annotation.AnalysisResult `json:"analysisResult"`
	Streaming          annotation.Streaming      `json:"streamingTranslation"`
	RevealedTokens     annotation.Reveals        `json:"revealedTokens"`
}

// Snapshot copies the state and its projections in one consistent read.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{
		Folder:             s.folder,
		Images:             slices.Clone(s.images),
		CurrentIndex:       s.current,
		CurrentImage:       s.currentImage(),
		Boxes:              s.boxes.All(),
		DetectedCount:      s.boxes.DetectedLen(),
		SelectedBoxIndices: slices.Clone(s.selection),
		SelectedBoxes:      s.selectedBoxes(),
		Analysis:           s.analysis.Clone(),
		Streaming:          s.streaming,
		RevealedTokens:     s.revealed.Clone(),
	}
	if len(s.selection) > 0 {
		if box, ok := s.boxes.At(s.selection[0]); ok {
			snap.SelectedBox = &box
		}
	}
	if snap.Images == nil {
		snap.Images = []string{}
	}
	if snap.SelectedBoxIndices == nil {
		snap.SelectedBoxIndices = []int{}
	}
	return snap
}
