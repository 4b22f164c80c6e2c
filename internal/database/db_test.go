// Package database_test tests database path handling.
package database_test

import (
	"testing"

	"github.com/neuroscribe/scribebot/internal/database"
)

func TestExtractDBNameFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"simple path", "storage.db", "storage.db"},
		{"file URI prefix", "file:storage.db", "storage.db"},
		{"query parameters stripped", "storage.db?_busy_timeout=5000", "storage.db"},
		{"URI with params", "file:data/storage.db?cache=shared&mode=rwc", "data/storage.db"},
		{"escaped characters decoded", "my%20data.db", "my data.db"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := database.ExtractDBNameFromPath(tc.path); got != tc.want {
				t.Errorf("ExtractDBNameFromPath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}
