// Package address derives canonical cache addresses for box selections and
// page images.
//
// A selection of one box is addressed by its index ("3"). A selection of
// several boxes is addressed by the sorted, de-duplicated index set behind a
// literal prefix ("multi_0,1,2"). Addressing is independent of selection
// order; the order itself is kept separately for presentation.
package address

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// CompositePrefix tags multi-box addresses.
const CompositePrefix = "multi_"

// ErrInvalidKey reports a string that is not a canonical address.
var ErrInvalidKey = errors.New("address: invalid key")

// Address is either Single(index) or Composite(sorted indices). The zero value
// is not a valid address.
type Address struct {
	indices []int
}

// Single addresses one box.
func Single(index int) Address {
	return Address{indices: []int{index}}
}

// Composite addresses a set of boxes. Duplicates are dropped and the order is
// normalized; a set of one collapses to Single.
func Composite(indices []int) Address {
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	return Address{indices: slices.Compact(sorted)}
}

// For derives the address of a selection. ok is false for an empty selection.
func For(selection []int) (Address, bool) {
	if len(selection) == 0 {
		return Address{}, false
	}
	return Composite(selection), true
}

// IsComposite reports whether the address spans more than one box.
func (a Address) IsComposite() bool { return len(a.indices) > 1 }

// Valid reports whether the address names at least one box.
func (a Address) Valid() bool { return len(a.indices) > 0 }

// Indices returns the sorted index set.
func (a Address) Indices() []int { return slices.Clone(a.indices) }

// Key is the canonical string form used as the mapping key.
func (a Address) Key() string {
	switch len(a.indices) {
	case 0:
		return ""
	case 1:
		return strconv.Itoa(a.indices[0])
	}
	parts := make([]string, len(a.indices))
	for i, idx := range a.indices {
		parts[i] = strconv.Itoa(idx)
	}
	return CompositePrefix + strings.Join(parts, ",")
}

func (a Address) String() string { return a.Key() }

// Contains reports whether index is part of the address.
func (a Address) Contains(index int) bool {
	_, found := slices.BinarySearch(a.indices, index)
	return found
}

// Parse reads a canonical key back. Non-canonical composite keys (unsorted or
// with duplicates) are accepted and normalized.
func Parse(key string) (Address, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if rest, ok := strings.CutPrefix(trimmed, CompositePrefix); ok {
		fields := strings.Split(rest, ",")
		indices := make([]int, 0, len(fields))
		for _, field := range fields {
			idx, err := parseIndex(field)
			if err != nil {
				return Address{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
			}
			indices = append(indices, idx)
		}
		return Composite(indices), nil
	}
	idx, err := parseIndex(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return Single(idx), nil
}

// ParseSelection reads a comma separated index list such as "2,0,1",
// preserving its order.
func ParseSelection(value string) ([]int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	fields := strings.Split(trimmed, ",")
	out := make([]int, 0, len(fields))
	for _, field := range fields {
		idx, err := parseIndex(field)
		if err != nil {
			return nil, fmt.Errorf("address: selection %q: %w", value, err)
		}
		out = append(out, idx)
	}
	return out, nil
}

func parseIndex(value string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if idx < 0 {
		return 0, fmt.Errorf("negative index %d", idx)
	}
	return idx, nil
}

// NormalizeSelection reconciles the list form with the scalar form entries
// carried before multi-selection existed. The list wins when present; a
// scalar becomes a singleton list.
func NormalizeSelection(list []int, legacy *int) []int {
	if list != nil {
		return slices.Clone(list)
	}
	if legacy != nil {
		return []int{*legacy}
	}
	return []int{}
}
