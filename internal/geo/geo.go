// Package geo defines the location collaborators the what-next page uses to
// suggest nearby support resources. Accuracy is explicitly out of scope; the
// static implementations exist so the flow can be exercised end to end.
package geo

import (
	"context"
	"sort"
	"strings"
)

// Location is a resolved place.
type Location struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// Resource is one support service shown on the what-next page.
type Resource struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	URL      string   `json:"url"`
	Location Location `json:"location"`
}

// Geocoder resolves free-text addresses. Implementations may return
// (nil, nil) when the text cannot be resolved; lookups are best-effort.
type Geocoder interface {
	Lookup(ctx context.Context, freeText string) (*Location, error)
}

// ResourceFinder returns up to n resources nearest to loc.
type ResourceFinder interface {
	Near(ctx context.Context, loc Location, n int) ([]Resource, error)
}

// Static serves both contracts from fixed data.
type Static struct {
	places    map[string]Location
	resources []Resource
}

func NewStatic(places map[string]Location, resources []Resource) *Static {
	normalized := make(map[string]Location, len(places))
	for k, v := range places {
		normalized[normalizeKey(k)] = v
	}
	return &Static{places: normalized, resources: resources}
}

func (s *Static) Lookup(_ context.Context, freeText string) (*Location, error) {
	loc, ok := s.places[normalizeKey(freeText)]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (s *Static) Near(_ context.Context, loc Location, n int) ([]Resource, error) {
	out := append([]Resource(nil), s.resources...)
	sort.SliceStable(out, func(i, j int) bool {
		return sqDist(out[i].Location, loc) < sqDist(out[j].Location, loc)
	})
	if n < len(out) {
		out = out[:n]
	}
	return out, nil
}

func sqDist(a, b Location) float64 {
	dx, dy := a.Lat-b.Lat, a.Lng-b.Lng
	return dx*dx + dy*dy
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
