package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const defaultStateDir = "~/.outreach"

// FileStateDir resolves the root directory for file-backed runtime state.
func FileStateDir() string {
	return resolveStateDir(viper.GetString("file_state_dir"))
}

// SessionsDir resolves the directory holding per-account gateway session
// files. A relative sessions.dir_name nests under the state dir; an
// absolute one stands alone.
func SessionsDir() string {
	return resolveStateChildDir(viper.GetString("sessions.dir_name"), "sessions")
}

func resolveStateDir(raw string) string {
	dir := strings.TrimSpace(raw)
	if dir == "" {
		dir = defaultStateDir
	}
	return filepath.Clean(ExpandHomePath(dir))
}

func resolveStateChildDir(rawName, fallback string) string {
	name := strings.TrimSpace(rawName)
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "~") {
		return filepath.Clean(ExpandHomePath(name))
	}
	return filepath.Join(FileStateDir(), name)
}

// ExpandHomePath expands a leading ~ to the current user's home directory.
// Paths without the prefix come back unchanged.
func ExpandHomePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" || !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
