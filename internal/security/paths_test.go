package security

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lig_1abc", "lig_1abc"},
		{"C_aromatic", "C_aromatic"},
		{"../../etc/passwd", "etc_passwd"},
		{"a b\tc", "a_b_c"},
		{"..", "unknown"},
		{"", "unknown"},
		{"mol/../x", "mol_.._x"},
		{"Cl-", "Cl-"},
		{"αβγ", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(strings.Repeat("x", 500))
	if len(long) != maxNameLen {
		t.Errorf("expected long names truncated to %d, got %d", maxNameLen, len(long))
	}
}

func TestValidateWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(dir, "run_lig.sdf"), false},
		{"nested", filepath.Join(dir, "out", "run.dx"), false},
		{"dir itself", dir, false},
		{"parent", filepath.Join(dir, ".."), true},
		{"escape", filepath.Join(dir, "..", "other", "x.sdf"), true},
		{"sibling prefix", dir + "-evil/x.sdf", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
