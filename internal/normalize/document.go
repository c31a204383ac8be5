package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is one normalized answer. Value is either a string or a []string
// (multi-select), nothing else.
type Entry struct {
	Label string
	Value any
}

// Document is the ordered label→value map persisted on a report. Order is
// descriptor order from the spec, so the presentation layer can render it
// as-is without re-sorting.
type Document []Entry

// Get returns the value stored under label.
func (d Document) Get(label string) (any, bool) {
	for _, e := range d {
		if e.Label == label {
			return e.Value, true
		}
	}
	return nil, false
}

// Merge applies an incremental page update: entries sharing a label replace
// the previous answer in place, new labels append. The receiver is not
// modified.
func (d Document) Merge(update Document) Document {
	out := make(Document, len(d))
	copy(out, d)
	for _, e := range update {
		replaced := false
		for i := range out {
			if out[i].Label == e.Label {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	return out
}

// MarshalJSON renders the document as a JSON object whose key order follows
// entry order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a document preserving the on-disk key order.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document: expected JSON object, got %v", tok)
	}

	var out Document
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("document: non-string key %v", keyTok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, Entry{Label: label, Value: coerceValue(raw)})
	}
	*d = out
	return nil
}

// coerceValue narrows decoded JSON values back to the two shapes a document
// holds.
func coerceValue(v any) any {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return vv
	default:
		return fmt.Sprint(vv)
	}
}
