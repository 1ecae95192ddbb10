package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateConfigPath_RejectsPathTraversal(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"sibling directory with shared prefix", "/etc/relevanced-evil/config.yaml"},
		{"double dot suffix escape", "/etc/relevanced../etc/passwd"},
		{"multiple escapes", "~/.config/relevanced/../../../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if err == nil {
				t.Errorf("Expected error for path traversal attempt: %s", tt.path)
			}
		})
	}
}

func TestValidateConfigPath_AllowsValidPaths(t *testing.T) {
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
		t.Setenv("HOME", home)
	}

	validPaths := []string{
		filepath.Join(home, ".config", "relevanced", "config.yaml"),
		filepath.Join(home, ".config", "relevanced", "subdir", "config.yaml"),
		"/etc/relevanced/config.yaml",
		"/etc/relevanced/production/config.yaml",
	}

	for _, path := range validPaths {
		t.Run(path, func(t *testing.T) {
			err := validateConfigPath(path)
			if err != nil {
				t.Errorf("Valid path rejected: %s, error: %v", path, err)
			}
		})
	}
}

func TestValidateConfigPath_RejectsOutsideAllowedDirs(t *testing.T) {
	invalidPaths := []string{
		"/etc/passwd",
		"/tmp/config.yaml",
		"/var/lib/relevanced/config.yaml",
	}

	for _, path := range invalidPaths {
		t.Run(path, func(t *testing.T) {
			err := validateConfigPath(path)
			if err == nil {
				t.Errorf("Path outside allowed directories should be rejected: %s", path)
			}
		})
	}
}

func TestValidateConfigPath_HandlesNonExistentFiles(t *testing.T) {
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
		t.Setenv("HOME", home)
	}

	// Non-existent file in allowed directory should pass validation
	nonExistent := filepath.Join(home, ".config", "relevanced", "nonexistent.yaml")
	err := validateConfigPath(nonExistent)
	if err != nil {
		t.Errorf("Non-existent file in allowed directory should pass validation: %v", err)
	}
}

func TestValidateConfigPath_RejectsSymlinkEscape(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "relevanced")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	// Target outside the allowed directories.
	outside := filepath.Join(t.TempDir(), "outside.yaml")
	if err := os.WriteFile(outside, []byte("store:\n  provider: memory\n"), 0600); err != nil {
		t.Fatalf("Failed to write target: %v", err)
	}

	link := filepath.Join(configDir, "config.yaml")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("Cannot create symlink: %v", err)
	}

	if err := validateConfigPath(link); err == nil {
		t.Error("Symlink escaping the allowed directory should be rejected")
	}
}
