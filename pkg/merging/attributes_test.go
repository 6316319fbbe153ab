package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeAttributes(t *testing.T) {
	tests := []struct {
		name      string
		canonical map[string]any
		duplicate map[string]any
		expected  map[string]any
		conflicts []string
	}{
		{
			name:      "nothing to fold",
			canonical: map[string]any{"population": 70000.0},
			expected:  map[string]any{"population": 70000.0},
		},
		{
			name:      "duplicate fills gaps",
			canonical: map[string]any{"population": 70000.0, "website": ""},
			duplicate: map[string]any{"website": "https://bamberg.de", "ags": "09461000"},
			expected:  map[string]any{"population": 70000.0, "website": "https://bamberg.de", "ags": "09461000"},
		},
		{
			name:      "canonical wins conflicts",
			canonical: map[string]any{"population": 70000.0},
			duplicate: map[string]any{"population": 77000.0},
			expected:  map[string]any{"population": 70000.0},
			conflicts: []string{"population"},
		},
		{
			name:      "arrays are collected",
			canonical: map[string]any{"tags": []any{"unesco", "bier"}},
			duplicate: map[string]any{"tags": []any{"bier", "dom"}},
			expected:  map[string]any{"tags": []any{"unesco", "bier", "dom"}},
		},
		{
			name:      "objects merge recursively",
			canonical: map[string]any{"geo": map[string]any{"lat": 49.89}},
			duplicate: map[string]any{"geo": map[string]any{"lat": 49.9, "lon": 10.89}},
			expected:  map[string]any{"geo": map[string]any{"lat": 49.89, "lon": 10.89}},
			conflicts: []string{"geo.lat"},
		},
		{
			name:      "nil canonical",
			duplicate: map[string]any{"ags": "09461000"},
			expected:  map[string]any{"ags": "09461000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, conflicts := mergeAttributes(tt.canonical, tt.duplicate)
			assert.Equal(t, tt.expected, merged)
			assert.Equal(t, tt.conflicts, conflicts)
		})
	}
}
