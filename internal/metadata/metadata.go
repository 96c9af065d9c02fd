// Package metadata reads and rewrites the metadata.json shipped inside a spice.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/starford/spices/internal/models"
)

// FileName is the metadata file name.
const FileName = "metadata.json"

// LastEditedKey is the field written by the installer.
const LastEditedKey = "last-edited"

// Parse decodes metadata bytes. Unknown fields are kept in Raw.
func Parse(data []byte) (*models.LocalEntry, error) {
	raw, err := decode(data)
	if err != nil {
		return nil, err
	}
	e := &models.LocalEntry{Raw: raw}
	e.UUID = stringField(raw, "uuid")
	e.Name = stringField(raw, "name")
	e.Description = stringField(raw, "description")
	if v, ok := raw[LastEditedKey]; ok {
		if n, ok := toInt64(v); ok {
			e.LastEdited = n
			e.HasLastEdited = true
		}
	}
	return e, nil
}

// Read parses the metadata file at path.
func Read(path string) (*models.LocalEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("metadata: %s: %w", path, err)
	}
	return e, nil
}

// SetLastEdited rewrites path with last-edited set, keeping every other field.
// A missing file is created with the uuid and last-edited only.
func SetLastEdited(path, uuid string, lastEdited int64) error {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if raw, err = decode(data); err != nil {
			return fmt.Errorf("metadata: %s: %w", path, err)
		}
	case os.IsNotExist(err):
		raw["uuid"] = uuid
	default:
		return err
	}
	raw[LastEditedKey] = lastEdited

	out, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(out, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("metadata is not a JSON object")
	}
	return raw, nil
}

func stringField(raw map[string]any, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

// toInt64 accepts numbers and numeric strings; older installs stored either.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
