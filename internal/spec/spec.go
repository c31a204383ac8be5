// Package spec loads and caches the declarative form specifications that
// drive both submission channels.
package spec

import (
	"fmt"
	"strings"
)

// Input types understood by the normalizer and the channel adapters.
const (
	TypeText       = "text"
	TypeTextarea   = "textarea"
	TypeRadio      = "radio"
	TypeCheckbox   = "checkbox"
	TypeSelect     = "select"
	TypeDate       = "date"
	TypeFile       = "file"
	TypeAlias      = "alias"
	TypeUsedBefore = "used-before"
	TypeLookup     = "lookup"
)

// Option is one selectable choice. Subsidiary names a free-text input on the
// same page whose value elaborates this particular option.
type Option struct {
	Value      string `yaml:"value"`
	Label      string `yaml:"label"`
	Subsidiary string `yaml:"subsidiary,omitempty"`
}

// Input describes a single form control.
type Input struct {
	Name       string   `yaml:"name"`
	Label      string   `yaml:"label"`
	Type       string   `yaml:"type"`
	Required   bool     `yaml:"required,omitempty"`
	SkipOption bool     `yaml:"skip_option,omitempty"`
	Transient  bool     `yaml:"transient,omitempty"`
	Default    string   `yaml:"default,omitempty"`
	Options    []Option `yaml:"options,omitempty"`
}

// Page is one step of the paginated flow.
type Page struct {
	Title  string  `yaml:"title"`
	Inputs []Input `yaml:"inputs"`
}

// Spec is a project's complete form definition. Immutable once loaded; the
// cache hands out shared pointers, so callers must not mutate it.
type Spec struct {
	Org     string `yaml:"-"`
	Project string `yaml:"-"`
	Version string `yaml:"version"`
	Pages   []Page `yaml:"pages"`
}

// PageCount reports the number of steps in the paginated flow.
func (s *Spec) PageCount() int { return len(s.Pages) }

// InputsFor returns the input descriptors for the given 1-based page. Page 0
// is the single-page mode: the union of every page's inputs in order.
func (s *Spec) InputsFor(page int) ([]Input, error) {
	if page == 0 {
		var all []Input
		for _, p := range s.Pages {
			all = append(all, p.Inputs...)
		}
		return all, nil
	}
	if page < 1 || page > len(s.Pages) {
		return nil, fmt.Errorf("page %d: %w", page, ErrPageUnknown)
	}
	return s.Pages[page-1].Inputs, nil
}

// Steps lists page titles for progress display.
func (s *Spec) Steps() []string {
	steps := make([]string, len(s.Pages))
	for i, p := range s.Pages {
		steps[i] = p.Title
	}
	return steps
}

// AliasPage returns the 1-based page carrying the identity assertion, or 0
// when the spec has none (SMS-only projects generate the alias server-side).
func (s *Spec) AliasPage() int {
	for i, p := range s.Pages {
		for _, in := range p.Inputs {
			if in.Type == TypeUsedBefore {
				return i + 1
			}
		}
	}
	return 0
}

// Questions flattens the spec into the ordered one-input-per-exchange list
// the SMS channel walks through. Transient helpers, identity assertion and
// file inputs are not askable over SMS.
func (s *Spec) Questions() []Input {
	var qs []Input
	for _, p := range s.Pages {
		for _, in := range p.Inputs {
			switch in.Type {
			case TypeUsedBefore, TypeAlias, TypeLookup, TypeFile:
				continue
			}
			if in.Transient || strings.HasSuffix(in.Name, "-skip") {
				continue
			}
			qs = append(qs, in)
		}
	}
	return qs
}

// validate enforces structural invariants after parsing. Violations surface
// as ErrInvalid so callers can distinguish "broken" from "missing".
func (s *Spec) validate() error {
	if len(s.Pages) == 0 {
		return fmt.Errorf("%w: no pages defined", ErrInvalid)
	}
	seen := make(map[string]bool)
	for pi, p := range s.Pages {
		names := make(map[string]bool)
		for _, in := range p.Inputs {
			if in.Name == "" {
				return fmt.Errorf("%w: page %d has an unnamed input", ErrInvalid, pi+1)
			}
			if seen[in.Name] {
				return fmt.Errorf("%w: duplicate input name %q", ErrInvalid, in.Name)
			}
			seen[in.Name] = true
			names[in.Name] = true
		}
		for _, in := range p.Inputs {
			for _, opt := range in.Options {
				if opt.Subsidiary != "" && !names[opt.Subsidiary] {
					return fmt.Errorf("%w: input %q option %q references subsidiary %q not on the same page",
						ErrInvalid, in.Name, opt.Value, opt.Subsidiary)
				}
			}
		}
	}
	return nil
}
