// Package normalize converts raw per-page submissions into the canonical,
// presentation-ready document stored on a report. It is pure: same inputs,
// same output, no clock reads or randomness beyond the caller-supplied now.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"haven/internal/spec"
)

// Raw is a page's submitted fields after the channel adapter's
// coerce-to-array step: every value is a slice, single selections included.
type Raw map[string][]string

// Clone deep-copies a raw field map so persisted snapshots never alias
// request-scoped slices.
func (r Raw) Clone() Raw {
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = append([]string(nil), v...)
	}
	return out
}

const (
	// SkipValue is the sentinel answer meaning "declined to answer". It
	// overrides any co-selected options.
	SkipValue = "Skip"

	// NoAnswer marks an unanswered nullable input explicitly, keeping the
	// document shape stable for presentation layers.
	NoAnswer = "No answer"
)

// FieldError names one failed input and why.
type FieldError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ValidationError carries the full field-level error list so channels can
// redisplay the page with everything the reporter needs to fix.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Name + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(name, msg string) {
	e.Fields = append(e.Fields, FieldError{Name: name, Message: msg})
}

// Validate checks a page's raw fields against its input descriptors. A nil
// return means the page may be normalized and persisted.
func Validate(inputs []spec.Input, raw Raw, now time.Time) *ValidationError {
	verr := &ValidationError{}
	for _, in := range inputs {
		if skipDescriptor(in) {
			continue
		}
		if in.SkipOption && truthy(raw[in.Name+"-skip"]) {
			continue
		}
		switch in.Type {
		case spec.TypeDate:
			ts, err := ReconstructDate(in.Name, raw, now)
			if err != nil {
				if de, ok := err.(*ValidationError); ok {
					verr.Fields = append(verr.Fields, de.Fields...)
				} else {
					verr.add(in.Name, err.Error())
				}
				continue
			}
			if in.Required && ts == nil {
				verr.add(in.Name, "required")
			}
		case spec.TypeFile, spec.TypeLookup:
			// Never required; consumed by collaborators, not validated here.
		default:
			if in.Required && !answered(raw[in.Name]) {
				verr.add(in.Name, "required")
			}
		}
	}
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

// Normalize converts raw fields into the ordered label→value document.
// Iteration follows descriptor order, not raw-field order, so the output is
// deterministic regardless of how the client serialized the form.
func Normalize(inputs []spec.Input, raw Raw, now time.Time) (Document, error) {
	subsidiaries := subsidiaryNames(inputs)

	var doc Document
	for _, in := range inputs {
		if skipDescriptor(in) || subsidiaries[in.Name] {
			continue
		}

		// Skip is authoritative: it suppresses the recorded answer AND any
		// co-located subsidiary free text from earlier visits.
		if in.SkipOption && truthy(raw[in.Name+"-skip"]) {
			doc = append(doc, Entry{Label: in.Label, Value: SkipValue})
			continue
		}

		if in.Type == spec.TypeDate {
			ts, err := ReconstructDate(in.Name, raw, now)
			if err != nil {
				return nil, err
			}
			if ts == nil {
				doc = append(doc, Entry{Label: in.Label, Value: NoAnswer})
			} else {
				withTime := first(raw[in.Name+"-time"]) != ""
				doc = append(doc, Entry{Label: in.Label, Value: FormatDate(*ts, withTime)})
			}
			continue
		}

		// Copy, never alias: subsidiary append below must not mutate the
		// caller's slice.
		vals := append([]string(nil), raw[in.Name]...)
		if !answered(vals) {
			doc = append(doc, Entry{Label: in.Label, Value: NoAnswer})
			continue
		}
		if containsSkip(vals) {
			doc = append(doc, Entry{Label: in.Label, Value: SkipValue})
			continue
		}

		switch in.Type {
		case spec.TypeCheckbox:
			display := make([]string, len(vals))
			for i, v := range vals {
				display[i] = displayValue(in, v, raw)
			}
			doc = append(doc, Entry{Label: in.Label, Value: display})
		case spec.TypeRadio, spec.TypeSelect:
			doc = append(doc, Entry{Label: in.Label, Value: displayValue(in, vals[0], raw)})
		default:
			doc = append(doc, Entry{Label: in.Label, Value: strings.TrimSpace(vals[0])})
		}
	}
	return doc, nil
}

// displayValue maps a submitted option value to its display text and appends
// the subsidiary elaboration in parentheses when one was provided.
func displayValue(in spec.Input, value string, raw Raw) string {
	for _, opt := range in.Options {
		if opt.Value != value {
			continue
		}
		label := opt.Label
		if label == "" {
			label = opt.Value
		}
		if opt.Subsidiary != "" {
			if text := first(raw[opt.Subsidiary]); text != "" {
				return fmt.Sprintf("%s (%s)", label, text)
			}
		}
		return label
	}
	return value
}

// skipDescriptor filters out inputs that never emit a document entry of
// their own: companion "-skip" flags, transient helpers, and fields consumed
// elsewhere (identity assertion, alias, address lookup, file parts).
func skipDescriptor(in spec.Input) bool {
	if strings.HasSuffix(in.Name, "-skip") || in.Transient {
		return true
	}
	switch in.Type {
	case spec.TypeUsedBefore, spec.TypeAlias, spec.TypeLookup, spec.TypeFile:
		return true
	}
	return false
}

func subsidiaryNames(inputs []spec.Input) map[string]bool {
	out := make(map[string]bool)
	for _, in := range inputs {
		for _, opt := range in.Options {
			if opt.Subsidiary != "" {
				out[opt.Subsidiary] = true
			}
		}
	}
	return out
}

func answered(vals []string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func containsSkip(vals []string) bool {
	for _, v := range vals {
		if v == SkipValue {
			return true
		}
	}
	return false
}

func truthy(vals []string) bool {
	v := strings.ToLower(first(vals))
	switch v {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
