// Package keymap loads the key definition table mapping logical button names
// to ordered scancode sequences. The table is loaded once at startup and is
// immutable afterwards; a held session must never observe a key changing
// under it.
package keymap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is an immutable mapping from key name to its ordered scancodes.
type Table struct {
	keys map[string][]string
}

// ScanCode accepts either a string or a bare number in key files, since hand
// written key.json files commonly mix both.
type ScanCode string

// UnmarshalJSON decodes a scancode from a JSON string or number.
func (s *ScanCode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = ScanCode(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = ScanCode(num.String())
		return nil
	}
	return fmt.Errorf("scancode must be a string or number, got %s", strings.TrimSpace(string(data)))
}

// UnmarshalYAML decodes a scancode from a YAML scalar.
func (s *ScanCode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("scancode must be a scalar, got %v node", value.Kind)
	}
	*s = ScanCode(value.Value)
	return nil
}

// Load reads a key table from path. Files ending in .yaml or .yml are parsed
// as YAML; everything else is parsed as JSON, matching the original key.json
// contract.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymap: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON builds a table from JSON bytes.
func ParseJSON(data []byte) (*Table, error) {
	var raw map[string][]ScanCode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("keymap: parse json: %w", err)
	}
	return fromRaw(raw)
}

// ParseYAML builds a table from YAML bytes.
func ParseYAML(data []byte) (*Table, error) {
	var raw map[string][]ScanCode
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("keymap: parse yaml: %w", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw map[string][]ScanCode) (*Table, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("keymap: key table must be a non-empty mapping")
	}
	keys := make(map[string][]string, len(raw))
	for name, codes := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("keymap: key table contains an empty key name")
		}
		// Empty scancode lists are kept; the sender reports them at send
		// time so the web page can still render the button.
		list := make([]string, len(codes))
		for i, code := range codes {
			list[i] = string(code)
		}
		keys[name] = list
	}
	return &Table{keys: keys}, nil
}

// Get returns the ordered scancodes for name.
func (t *Table) Get(name string) ([]string, bool) {
	codes, ok := t.keys[name]
	return codes, ok
}

// Names returns all key names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.keys))
	for name := range t.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of keys in the table.
func (t *Table) Len() int {
	return len(t.keys)
}

// MarshalJSON renders the table as the plain name -> scancodes mapping served
// on /key.json and injected into the remote page.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.keys)
}

// LoadLayout reads an optional layout file and returns it as raw JSON for
// pass-through to the remote page. An empty path yields nil layout.
func LoadLayout(path string) (json.RawMessage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymap: read layout %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("keymap: layout %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
