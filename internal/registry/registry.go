// Package registry finds GGUF weights on local disk for a model identifier.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"assistd/pkg/types"
)

// NotFoundError reports that no GGUF file matched a model identifier.
type NotFoundError struct {
	ModelID string
	Dir     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no gguf weights for %q under %s", e.ModelID, e.Dir)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

var quantRe = regexp.MustCompile(`(?i)^(q\d[\w]*|iq\d[\w]*|f16|f32|bf16)$`)

// Scan lists *.gguf files directly under dir, sorted by ID.
func Scan(dir string) ([]types.Model, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".gguf") {
			continue
		}
		id := name[:len(name)-len(".gguf")]
		m := types.Model{ID: id, Path: filepath.Join(abs, name), Quant: quantOf(id)}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve maps modelID to a weights path. A modelID that is itself a path to
// an existing file is returned as is. Otherwise the last path segment of
// modelID ("org/Name" -> "Name") is matched case-insensitively against the
// file names in dir, either exactly or as a prefix followed by '.', '-' or '_'.
func Resolve(dir, modelID string) (string, error) {
	if p, err := expandHome(modelID); err == nil {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return filepath.Abs(p)
		}
	}
	if strings.TrimSpace(dir) == "" {
		return "", &NotFoundError{ModelID: modelID, Dir: "(no models dir)"}
	}
	models, err := Scan(dir)
	if err != nil {
		return "", err
	}
	key := strings.ToLower(modelID)
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	key = strings.TrimSuffix(key, ".gguf")
	for _, m := range models {
		id := strings.ToLower(m.ID)
		if id == key {
			return m.Path, nil
		}
	}
	for _, m := range models {
		id := strings.ToLower(m.ID)
		if strings.HasPrefix(id, key) && len(id) > len(key) && strings.ContainsRune(".-_", rune(id[len(key)])) {
			return m.Path, nil
		}
	}
	return "", &NotFoundError{ModelID: modelID, Dir: dir}
}

func quantOf(id string) string {
	for _, sep := range []string{".", "-"} {
		if i := strings.LastIndex(id, sep); i >= 0 && quantRe.MatchString(id[i+1:]) {
			return id[i+1:]
		}
	}
	return ""
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
