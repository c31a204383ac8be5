package flow

import (
	"fmt"
	"strconv"

	"haven/pkg/platform/sentinel"
)

// PageRef identifies a step of the flow. All marks the single-page mode
// ("*" or "+" in URLs): one page whose input set is the union of every
// page's inputs.
type PageRef struct {
	N   int
	All bool
}

// ParsePageRef turns a URL path segment into a PageRef.
func ParsePageRef(s string) (PageRef, error) {
	if s == "*" || s == "+" {
		return PageRef{All: true}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return PageRef{}, fmt.Errorf("page %q: %w", s, sentinel.ErrNotFound)
	}
	return PageRef{N: n}, nil
}

func (p PageRef) String() string {
	if p.All {
		return "*"
	}
	return strconv.Itoa(p.N)
}

// Direction is where the reporter asked to go after a successful submit.
type Direction int

const (
	Next Direction = iota
	Prev
)
