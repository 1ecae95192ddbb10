package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "security beats debugging",
			content: "fix the SQL injection bug in the login handler",
			want:    "Security",
		},
		{
			name:    "operations via command",
			content: "run docker build before pushing the image",
			want:    "Operations",
		},
		{
			name:    "debugging",
			content: "the deadlock came from a goroutine leak in the worker pool",
			want:    "Debugging",
		},
		{
			name:    "architecture",
			content: "this design decision keeps the interface boundary narrow",
			want:    "Architecture",
		},
		{
			name:    "testing",
			content: "prefer table-driven tests with one assertion block",
			want:    "Testing",
		},
		{
			name:    "fallback debugging keyword",
			content: "apply the workaround until upstream ships",
			want:    "Debugging",
		},
		{
			name:    "general fallback",
			content: "prefer short variable names in small scopes",
			want:    CategoryGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, confidence := Categorize(tt.content)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, confidence, 0)
			assert.LessOrEqual(t, confidence, 100)
		})
	}
}

func TestCategorize_GeneralConfidence(t *testing.T) {
	got, confidence := Categorize("nothing matches here")
	assert.Equal(t, CategoryGeneral, got)
	assert.Equal(t, DefaultConfidence, confidence)
}

func TestCategorize_TruncatesLongInput(t *testing.T) {
	// The matching keyword sits beyond the truncation boundary, so the
	// classifier must fall back rather than scan the full input.
	content := strings.Repeat("x ", maxClassifyLength) + " SQL injection"
	got, _ := Categorize(content)
	assert.Equal(t, CategoryGeneral, got)
}
