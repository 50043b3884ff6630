package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const defaultBaseDir = ".sauai"

// Paths holds resolved filesystem paths for SAÚ AI data.
type Paths struct {
	Base    string // ~/.sauai
	Config  string // ~/.sauai/config.yaml
	EnvFile string // ~/.sauai/.env
	Data    string // ~/.sauai/data
	Logs    string // ~/.sauai/logs
}

// ResolvePaths computes all standard paths from the home directory.
// SAU_HOME overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("SAU_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		EnvFile: filepath.Join(base, ".env"),
		Data:    filepath.Join(base, "data"),
		Logs:    filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// Sections are the top-level keys of the config file.
var Sections = []string{"database", "web", "router", "qa", "channels", "logging", "secrets"}

var segmentPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ParseConfigPath splits a dotted key such as "qa.qdrant.host". The first
// segment must name a config section.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if !segmentPattern.MatchString(p) {
			return nil, &ConfigError{Message: fmt.Sprintf("invalid segment %q in config path %q", p, raw)}
		}
	}
	if !slices.Contains(Sections, parts[0]) {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown config section %q (one of %s)", parts[0], strings.Join(Sections, ", "))}
	}
	return parts, nil
}

// parent walks root down to the map holding the last segment of path.
// With create set, missing or non-map intermediates are replaced by maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur, true
}

// GetValueAtPath returns the value stored at path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path, creating intermediate maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and any maps left empty by the
// deletion. It reports whether a value was removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	if len(m) == 0 && len(path) > 1 {
		UnsetValueAtPath(root, path[:len(path)-1])
	}
	return true
}
