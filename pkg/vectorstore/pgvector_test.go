package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"research_sources", true},
		{"_private", true},
		{"run42_chunks", true},
		{"x", true},
		{"abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_", true},
		{"abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789__", false},
		{"9lives", false},
		{"sources-v2", false},
		{"research sources", false},
		{"sources; DROP TABLE checkpoints", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidTableName(tt.input))
		})
	}
}

func TestMetadataFilter(t *testing.T) {
	tests := []struct {
		name     string
		filter   map[string]interface{}
		want     string
		wantArgs []string
	}{
		{
			name: "empty",
			want: "TRUE",
		},
		{
			name:     "equality",
			filter:   map[string]interface{}{"source": "https://a"},
			want:     "metadata @> $3",
			wantArgs: []string{`{"source":"https://a"}`},
		},
		{
			name:     "keys joined in sorted order",
			filter:   map[string]interface{}{"title": "T", "chunk": 0.0},
			want:     "metadata @> $3 AND metadata @> $4",
			wantArgs: []string{`{"chunk":0}`, `{"title":"T"}`},
		},
		{
			name: "or of and",
			filter: map[string]interface{}{
				"$or": []interface{}{
					map[string]interface{}{"source": "https://a"},
					map[string]interface{}{"$and": []interface{}{
						map[string]interface{}{"source": "https://b"},
						map[string]interface{}{"chunk": 1.0},
					}},
				},
			},
			want:     "((metadata @> $3) OR (((metadata @> $4) AND (metadata @> $5))))",
			wantArgs: []string{`{"source":"https://a"}`, `{"source":"https://b"}`, `{"chunk":1}`},
		},
		{
			name:     "not",
			filter:   map[string]interface{}{"$not": map[string]interface{}{"source": "https://spam"}},
			want:     "NOT (metadata @> $3)",
			wantArgs: []string{`{"source":"https://spam"}`},
		},
		{
			name:     "in",
			filter:   map[string]interface{}{"source": map[string]interface{}{"$in": []interface{}{"https://a", "https://b"}}},
			want:     "(metadata @> $3 OR metadata @> $4)",
			wantArgs: []string{`{"source":"https://a"}`, `{"source":"https://b"}`},
		},
		{
			name:   "empty in matches nothing",
			filter: map[string]interface{}{"source": map[string]interface{}{"$in": []interface{}{}}},
			want:   "FALSE",
		},
		{
			name:     "nested object without operator is containment",
			filter:   map[string]interface{}{"meta": map[string]interface{}{"lang": "en"}},
			want:     "metadata @> $3",
			wantArgs: []string{`{"meta":{"lang":"en"}}`},
		},
		{
			name:   "empty operator list is ignored",
			filter: map[string]interface{}{"$or": []interface{}{}},
			want:   "TRUE",
		},
		{
			name:   "operator over empty object",
			filter: map[string]interface{}{"$and": []interface{}{map[string]interface{}{}}},
			want:   "((TRUE))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMetadataFilter("embedding", "run-1")
			got, err := f.build(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, f.args, 2+len(tt.wantArgs))
			assert.Equal(t, []interface{}{"embedding", "run-1"}, f.args[:2])
			for i, want := range tt.wantArgs {
				assert.JSONEq(t, want, string(f.args[2+i].([]byte)))
			}
		})
	}
}

func TestMetadataFilterErrors(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"or is not a list":      {"$or": "invalid"},
		"and item not object":   {"$and": []interface{}{"invalid"}},
		"not is not an object":  {"$not": []interface{}{"invalid"}},
		"unknown operator":      {"$near": map[string]interface{}{}},
		"in is not a list":      {"source": map[string]interface{}{"$in": "https://a"}},
		"nested error surfaces": {"$or": []interface{}{map[string]interface{}{"$not": "x"}}},
	}

	for name, filter := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newMetadataFilter().build(filter)
			assert.Error(t, err)
		})
	}
}
