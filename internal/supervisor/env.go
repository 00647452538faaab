package supervisor

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// defaultSearchPaths are prepended to PATH when absent so scripts can find
// user-installed interpreters and tools. A leading "~" expands to $HOME.
var defaultSearchPaths = []string{
	"~/.local/bin",
	"/opt/homebrew/bin",
	"/usr/local/bin",
}

// buildEnv constructs the child environment.
//
//  1. OS env                (highest)
//  2. script dir .env       (only if key is still unset)
//  3. PATH gets searchPaths prepended when missing
func buildEnv(scriptDir string, searchPaths []string) []string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}

	// A missing or unreadable .env is not an error.
	if fileEnv, err := godotenv.Read(filepath.Join(scriptDir, ".env")); err == nil {
		for k, v := range fileEnv {
			if _, exists := env[k]; !exists {
				env[k] = v
			}
		}
	}

	env["PATH"] = augmentPath(env["PATH"], searchPaths, os.Getenv("HOME"))

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// augmentPath prepends each dir in extra that PATH does not already contain,
// preserving the order of extra.
func augmentPath(path string, extra []string, home string) string {
	current := filepath.SplitList(path)
	var missing []string
	for _, dir := range extra {
		if strings.HasPrefix(dir, "~/") {
			if home == "" {
				continue
			}
			dir = filepath.Join(home, dir[2:])
		}
		if slices.Contains(current, dir) || slices.Contains(missing, dir) {
			continue
		}
		missing = append(missing, dir)
	}
	if len(missing) == 0 {
		return path
	}
	parts := append(missing, current...)
	return strings.Join(parts, string(os.PathListSeparator))
}
