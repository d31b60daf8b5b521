// Package annotation holds the payload types shared by the cache, the state
// store and the analysis collaborator: boxes, analysis results, streamed
// translation chunks and spoiler reveal flags.
package annotation

import (
	"encoding/json"
	"fmt"
)

// Box is a rectangular page region in image pixel coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Normalize flips negative extents so W and H are never negative. A box drawn
// right-to-left or bottom-to-top keeps covering the same region.
func (b Box) Normalize() Box {
	if b.W < 0 {
		b.X += b.W
		b.W = -b.W
	}
	if b.H < 0 {
		b.Y += b.H
		b.H = -b.H
	}
	return b
}

// BoxKind tags where a box came from.
type BoxKind string

const (
	// BoxDetected marks regions proposed by the detector.
	BoxDetected BoxKind = "detected"
	// BoxCustom marks regions drawn by the user.
	BoxCustom BoxKind = "custom"
)

// TaggedBox is a Box together with its origin. It encodes flat so the UI sees
// {x, y, w, h, type}.
type TaggedBox struct {
	Box
	Kind BoxKind `json:"type"`
}

// Reindex maps a box index from before a list mutation to the index the same
// box occupies afterwards. ok is false when the box no longer exists.
type Reindex func(old int) (index int, ok bool)

// BoxList is the single flattened address space over detected and custom
// boxes. Detected boxes always occupy [0, DetectedLen()) and custom boxes
// follow, so an index is unambiguous at any point in time.
type BoxList struct {
	items []TaggedBox
}

// NewBoxList builds the sequence from the two persisted lists.
func NewBoxList(detected, custom []Box) BoxList {
	items := make([]TaggedBox, 0, len(detected)+len(custom))
	for _, b := range detected {
		items = append(items, TaggedBox{Box: b, Kind: BoxDetected})
	}
	for _, b := range custom {
		items = append(items, TaggedBox{Box: b, Kind: BoxCustom})
	}
	return BoxList{items: items}
}

// Len reports the number of boxes across both kinds.
func (l BoxList) Len() int { return len(l.items) }

// At returns the box at index.
func (l BoxList) At(index int) (TaggedBox, bool) {
	if index < 0 || index >= len(l.items) {
		return TaggedBox{}, false
	}
	return l.items[index], true
}

// Contains reports whether index addresses an existing box.
func (l BoxList) Contains(index int) bool {
	return index >= 0 && index < len(l.items)
}

// All returns a copy of the tagged sequence.
func (l BoxList) All() []TaggedBox {
	out := make([]TaggedBox, len(l.items))
	copy(out, l.items)
	return out
}

// DetectedLen is the size of the detected segment.
func (l BoxList) DetectedLen() int {
	n := 0
	for _, item := range l.items {
		if item.Kind == BoxDetected {
			n++
		}
	}
	return n
}

// Detected returns the detected segment as plain boxes.
func (l BoxList) Detected() []Box { return l.ofKind(BoxDetected) }

// Custom returns the custom segment as plain boxes.
func (l BoxList) Custom() []Box { return l.ofKind(BoxCustom) }

func (l BoxList) ofKind(kind BoxKind) []Box {
	out := make([]Box, 0, len(l.items))
	for _, item := range l.items {
		if item.Kind == kind {
			out = append(out, item.Box)
		}
	}
	return out
}

// SetDetected replaces the detected segment. Custom boxes keep their relative
// order but shift to follow the new detected segment.
func (l *BoxList) SetDetected(boxes []Box) {
	*l = NewBoxList(boxes, l.Custom())
}

// AddCustom appends a normalized user-drawn box and returns its index.
func (l *BoxList) AddCustom(b Box) int {
	l.items = append(l.items, TaggedBox{Box: b.Normalize(), Kind: BoxCustom})
	return len(l.items) - 1
}

// Remove deletes the box at index. The returned Reindex translates indices
// taken before the removal: the removed index is gone and every later index
// moves down by one.
func (l *BoxList) Remove(index int) (Reindex, bool) {
	if !l.Contains(index) {
		return nil, false
	}
	items := make([]TaggedBox, 0, len(l.items)-1)
	items = append(items, l.items[:index]...)
	items = append(items, l.items[index+1:]...)
	l.items = items
	removed := index
	return func(old int) (int, bool) {
		switch {
		case old == removed:
			return 0, false
		case old > removed:
			return old - 1, true
		default:
			return old, true
		}
	}, true
}

// MarshalJSON encodes the flattened, tagged sequence.
func (l BoxList) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.All())
}

// UnmarshalJSON accepts the tagged sequence and restores the detected-first
// ordering.
func (l *BoxList) UnmarshalJSON(data []byte) error {
	var items []TaggedBox
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	var detected, custom []Box
	for i, item := range items {
		switch item.Kind {
		case BoxDetected:
			detected = append(detected, item.Box)
		case BoxCustom:
			custom = append(custom, item.Box)
		default:
			return fmt.Errorf("annotation: box %d has unknown type %q", i, item.Kind)
		}
	}
	*l = NewBoxList(detected, custom)
	return nil
}
