package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"haven/internal/spec"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func spokenToInputs() []spec.Input {
	return []spec.Input{
		{
			Name:       "spoken-to",
			Label:      "Spoken to anybody?",
			Type:       spec.TypeCheckbox,
			SkipOption: true,
			Options: []spec.Option{
				{Value: "Police", Label: "Police or government officials"},
				{Value: "Friends", Label: "Friends, family", Subsidiary: "friends-detail"},
			},
		},
		{Name: "friends-detail", Label: "Who did you tell?", Type: spec.TypeText},
	}
}

func TestNormalizeCheckboxWithSubsidiary(t *testing.T) {
	raw := Raw{
		"spoken-to":      {"Police", "Friends"},
		"friends-detail": {"told my sister"},
	}

	doc, err := Normalize(spokenToInputs(), raw, testNow)
	require.NoError(t, err)

	v, ok := doc.Get("Spoken to anybody?")
	require.True(t, ok)
	assert.Equal(t, []string{
		"Police or government officials",
		"Friends, family (told my sister)",
	}, v)

	// The subsidiary input itself must not emit a standalone entry.
	_, ok = doc.Get("Who did you tell?")
	assert.False(t, ok)
}

func TestNormalizeDoesNotAliasRawArrays(t *testing.T) {
	original := []string{"Friends"}
	raw := Raw{
		"spoken-to":      original,
		"friends-detail": {"told my sister"},
	}

	_, err := Normalize(spokenToInputs(), raw, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"Friends"}, original, "normalization must not mutate the submitted array")
}

func TestNormalizeSkipSentinelCollapsesArray(t *testing.T) {
	raw := Raw{"spoken-to": {"Police", "Skip"}}

	doc, err := Normalize(spokenToInputs(), raw, testNow)
	require.NoError(t, err)

	v, _ := doc.Get("Spoken to anybody?")
	assert.Equal(t, "Skip", v, "Skip overrides every co-selected option")
}

func TestNormalizeSkipFlagClearsSubsidiaryText(t *testing.T) {
	// Revisit scenario: free text entered earlier, then the reporter ticks
	// "prefer not to answer". Skip is authoritative; stale text must not
	// reappear concatenated.
	raw := Raw{
		"spoken-to":      {"Friends"},
		"spoken-to-skip": {"1"},
		"friends-detail": {"told my sister"},
	}

	doc, err := Normalize(spokenToInputs(), raw, testNow)
	require.NoError(t, err)

	v, _ := doc.Get("Spoken to anybody?")
	assert.Equal(t, "Skip", v)
}

func TestNormalizeRadioSubsidiary(t *testing.T) {
	inputs := []spec.Input{
		{
			Name:  "where",
			Label: "Where did it happen?",
			Type:  spec.TypeRadio,
			Options: []spec.Option{
				{Value: "home", Label: "At home"},
				{Value: "other", Label: "Somewhere else", Subsidiary: "where-detail"},
			},
		},
		{Name: "where-detail", Label: "Tell us where", Type: spec.TypeText},
	}
	raw := Raw{"where": {"other"}, "where-detail": {"on the bus"}}

	doc, err := Normalize(inputs, raw, testNow)
	require.NoError(t, err)

	v, _ := doc.Get("Where did it happen?")
	assert.Equal(t, "Somewhere else (on the bus)", v)
}

func TestNormalizeUnansweredEmitsExplicitMarker(t *testing.T) {
	inputs := []spec.Input{
		{Name: "details", Label: "Anything else?", Type: spec.TypeTextarea},
	}

	doc, err := Normalize(inputs, Raw{}, testNow)
	require.NoError(t, err)

	v, ok := doc.Get("Anything else?")
	require.True(t, ok, "unanswered nullable inputs stay present in the document")
	assert.Equal(t, NoAnswer, v)
}

func TestNormalizeExcludesConsumedFields(t *testing.T) {
	inputs := []spec.Input{
		{Name: "used-before", Label: "Reported before?", Type: spec.TypeUsedBefore},
		{Name: "alias", Label: "Your alias", Type: spec.TypeAlias},
		{Name: "address", Label: "Where do you live?", Type: spec.TypeLookup},
		{Name: "evidence", Label: "Evidence", Type: spec.TypeFile},
		{Name: "what", Label: "What happened?", Type: spec.TypeTextarea},
	}
	raw := Raw{
		"used-before": {"false"},
		"alias":       {"cedar lagoon"},
		"address":     {"12 Harbour St"},
		"what":        {"it happened"},
	}

	doc, err := Normalize(inputs, raw, testNow)
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "What happened?", doc[0].Label)
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := Raw{
		"spoken-to":      {"Police", "Friends"},
		"friends-detail": {"told my sister"},
	}

	first, err := Normalize(spokenToInputs(), raw, testNow)
	require.NoError(t, err)
	second, err := Normalize(spokenToInputs(), raw, testNow)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReconstructDate(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid composite with time", func(t *testing.T) {
		raw := Raw{
			"d-day":   {"15"},
			"d-month": {"mar"},
			"d-year":  {"2024"},
			"d-time":  {"14:30"},
		}
		ts, err := ReconstructDate("d", raw, now)
		require.NoError(t, err)
		require.NotNil(t, ts)
		assert.Equal(t, time.Date(2024, time.March, 15, 14, 30, 0, 0, time.UTC), *ts)
	})

	t.Run("numeric month accepted", func(t *testing.T) {
		raw := Raw{"d-day": {"15"}, "d-month": {"3"}, "d-year": {"2024"}}
		ts, err := ReconstructDate("d", raw, now)
		require.NoError(t, err)
		assert.Equal(t, time.March, ts.Month())
	})

	t.Run("day 32 rejected", func(t *testing.T) {
		raw := Raw{"d-day": {"32"}, "d-month": {"mar"}, "d-year": {"2024"}}
		_, err := ReconstructDate("d", raw, now)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "d", verr.Fields[0].Name)
	})

	t.Run("one second in the future rejected", func(t *testing.T) {
		raw := Raw{
			"d-day":   {"1"},
			"d-month": {"jun"},
			"d-year":  {"2025"},
			"d-time":  {"12:01"},
		}
		_, err := ReconstructDate("d", raw, now)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields[0].Message, "future")
	})

	t.Run("absent components mean unanswered", func(t *testing.T) {
		ts, err := ReconstructDate("d", Raw{}, now)
		require.NoError(t, err)
		assert.Nil(t, ts)
	})
}

func TestValidateRequired(t *testing.T) {
	inputs := []spec.Input{
		{Name: "what", Label: "What happened?", Type: spec.TypeTextarea, Required: true},
		{Name: "spoken-to", Label: "Spoken to anybody?", Type: spec.TypeCheckbox, Required: true, SkipOption: true},
	}

	t.Run("missing required fields listed individually", func(t *testing.T) {
		verr := Validate(inputs, Raw{}, testNow)
		require.NotNil(t, verr)
		require.Len(t, verr.Fields, 2)
		assert.Equal(t, "what", verr.Fields[0].Name)
		assert.Equal(t, "spoken-to", verr.Fields[1].Name)
	})

	t.Run("skip flag satisfies a required input", func(t *testing.T) {
		raw := Raw{"what": {"something"}, "spoken-to-skip": {"1"}}
		assert.Nil(t, Validate(inputs, raw, testNow))
	})

	t.Run("whitespace-only answer does not satisfy required", func(t *testing.T) {
		raw := Raw{"what": {"   "}, "spoken-to": {"Police"}}
		verr := Validate(inputs, raw, testNow)
		require.NotNil(t, verr)
		assert.Equal(t, "what", verr.Fields[0].Name)
	})
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	doc := Document{
		{Label: "Spoken to anybody?", Value: []string{"Police or government officials", "Friends, family (told my sister)"}},
		{Label: "Anything else?", Value: NoAnswer},
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Spoken to anybody?": ["Police or government officials", "Friends, family (told my sister)"],
		"Anything else?": "No answer"
	}`, string(data))

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, doc, back, "key order survives the round trip")
}

func TestDocumentMerge(t *testing.T) {
	base := Document{
		{Label: "A", Value: "one"},
		{Label: "B", Value: "two"},
	}
	update := Document{
		{Label: "B", Value: "revised"},
		{Label: "C", Value: "three"},
	}

	merged := base.Merge(update)
	assert.Equal(t, Document{
		{Label: "A", Value: "one"},
		{Label: "B", Value: "revised"},
		{Label: "C", Value: "three"},
	}, merged)
	assert.Equal(t, "two", base[1].Value, "merge must not mutate the receiver")
}
