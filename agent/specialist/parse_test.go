package specialist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Summary string `json:"summary"`
	}
	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{"raw", `{"summary":"a"}`, "a", true},
		{"json fence", "Here:\n```json\n{\"summary\":\"b\"}\n```\nthanks", "b", true},
		{"bare fence", "```\n{\"summary\":\"c\"}\n```", "c", true},
		{"embedded", `Sure! {"summary":"d"} hope it helps`, "d", true},
		{"prose", "just do it faster", "", false},
		{"empty", "  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			assert.Equal(t, tt.ok, extractJSON(tt.content, &p))
			assert.Equal(t, tt.want, p.Summary)
		})
	}
}

func TestContextJSON(t *testing.T) {
	assert.Equal(t, "{}", contextJSON(nil))
	assert.Equal(t, "{}", contextJSON(map[string]any{"bad": make(chan int)}))
	assert.Contains(t, contextJSON(map[string]any{"k": "v"}), `"k": "v"`)
}
