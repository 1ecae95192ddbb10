package citation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_CountsAndUniques(t *testing.T) {
	text := "Applied the rule [M:aa11bb22] here, and again [M:aa11bb22] later, plus the guard [G:cc33dd44]."

	res := Parse(text)

	assert.Equal(t, 2, res.MandateCount)
	assert.Equal(t, 1, res.GuardrailCount)
	assert.Equal(t, 3, res.Total())
	assert.Equal(t, []string{"aa11bb22", "cc33dd44"}, res.Unique)
	assert.True(t, res.Cited())
}

func TestParse_Empty(t *testing.T) {
	res := Parse("")
	assert.Zero(t, res.Total())
	assert.Empty(t, res.Unique)
	assert.False(t, res.Cited())

	res = Parse("no markers anywhere in this text")
	assert.Zero(t, res.Total())
	assert.Empty(t, res.Unique)
}

func TestParse_MalformedSkipped(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "uppercase hex", text: "[M:AA11BB22]"},
		{name: "too short", text: "[M:aa11bb2]"},
		{name: "too long", text: "[M:aa11bb22ff]"},
		{name: "non-hex characters", text: "[M:zz11bb22]"},
		{name: "unknown tier letter", text: "[X:aa11bb22]"},
		{name: "lowercase tier letter", text: "[m:aa11bb22]"},
		{name: "missing colon", text: "[Maa11bb22]"},
		{name: "unterminated", text: "[M:aa11bb22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.text)
			assert.Zero(t, res.Total(), "input %q", tt.text)
			assert.Empty(t, res.Unique)
		})
	}
}

func TestParse_MalformedDoesNotAbort(t *testing.T) {
	// A broken marker next to a valid one must not poison the parse.
	res := Parse("[M:NOTHEX!!] then [G:0123abcd] then [M:feedc0de]")

	assert.Equal(t, 1, res.MandateCount)
	assert.Equal(t, 1, res.GuardrailCount)
	assert.Equal(t, []string{"0123abcd", "feedc0de"}, res.Unique)
}

func TestParse_SamePrefixAcrossTiers(t *testing.T) {
	// The unique set is per prefix, not per (tier, prefix).
	res := Parse("[M:aa11bb22] [G:aa11bb22]")

	assert.Equal(t, 1, res.MandateCount)
	assert.Equal(t, 1, res.GuardrailCount)
	assert.Equal(t, []string{"aa11bb22"}, res.Unique)
}

func TestParse_EmbeddedInProse(t *testing.T) {
	text := "Following [M:0a1b2c3d], I validated inputs first.\n" +
		"The guardrail[G:4e5f6071]applies even without surrounding spaces."

	res := Parse(text)

	assert.Equal(t, 1, res.MandateCount)
	assert.Equal(t, 1, res.GuardrailCount)
	assert.Equal(t, []string{"0a1b2c3d", "4e5f6071"}, res.Unique)
}

func TestParse_TruncatesOversizedInput(t *testing.T) {
	// A marker placed past the cap is not scanned.
	text := strings.Repeat("x", maxInputLength) + "[M:aa11bb22]"
	res := Parse(text)
	assert.Zero(t, res.Total())

	// One inside the cap still is.
	text = "[G:cc33dd44]" + strings.Repeat("x", maxInputLength)
	res = Parse(text)
	assert.Equal(t, 1, res.GuardrailCount)
}
