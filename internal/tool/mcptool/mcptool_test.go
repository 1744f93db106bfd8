package mcptool

import (
	"testing"
)

func TestRegistryName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		server   string
		toolName string
		want     string
	}{
		{"files", "read_file", "files__read_file"},
		{"db", "query", "db__query"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.want, func(t *testing.T) {
			t.Parallel()
			if got := RegistryName(tc.server, tc.toolName); got != tc.want {
				t.Errorf("RegistryName(%q, %q) = %q, want %q", tc.server, tc.toolName, got, tc.want)
			}
		})
	}
}

func TestSchemaToMap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema any
		want   string
	}{
		{"nil schema", nil, "object"},
		{"map passthrough", map[string]any{"type": "object", "required": []any{"x"}}, "object"},
		{"marshalable struct", struct {
			Type string `json:"type"`
		}{Type: "object"}, "object"},
		{"unmarshalable falls back", func() {}, "object"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := schemaToMap(tc.schema)
			if got["type"] != tc.want {
				t.Errorf("schemaToMap(%v)[type] = %v, want %q", tc.schema, got["type"], tc.want)
			}
		})
	}
}
