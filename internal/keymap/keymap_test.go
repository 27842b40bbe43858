package keymap_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/irkeyd/irkeyd/internal/keymap"
)

func TestParseJSON(t *testing.T) {
	t.Parallel()

	table, err := keymap.ParseJSON([]byte(`{
		"power": ["nec_0x40bf00ff"],
		"vol_up": ["0x40bf40bf", "0x40bf40c0"],
		"numeric": [123, "0xff"]
	}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	codes, ok := table.Get("vol_up")
	if !ok {
		t.Fatal("vol_up missing from table")
	}
	if want := []string{"0x40bf40bf", "0x40bf40c0"}; !reflect.DeepEqual(codes, want) {
		t.Fatalf("vol_up codes = %v, want %v", codes, want)
	}
	codes, _ = table.Get("numeric")
	if want := []string{"123", "0xff"}; !reflect.DeepEqual(codes, want) {
		t.Fatalf("numeric codes = %v, want %v", codes, want)
	}
	if _, ok := table.Get("missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}
	if want := []string{"numeric", "power", "vol_up"}; !reflect.DeepEqual(table.Names(), want) {
		t.Fatalf("Names = %v, want %v", table.Names(), want)
	}
}

func TestParseJSONRejectsEmptyTable(t *testing.T) {
	t.Parallel()

	if _, err := keymap.ParseJSON([]byte(`{}`)); err == nil {
		t.Fatal("expected error for empty table")
	}
	if _, err := keymap.ParseJSON([]byte(`[]`)); err == nil {
		t.Fatal("expected error for non-mapping table")
	}
}

func TestParseJSONKeepsEmptyScancodeLists(t *testing.T) {
	t.Parallel()

	table, err := keymap.ParseJSON([]byte(`{"dead": []}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	codes, ok := table.Get("dead")
	if !ok || len(codes) != 0 {
		t.Fatalf("dead key = %v, %v; want present and empty", codes, ok)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.yaml")
	content := "power:\n  - 0x40bf00ff\nmute:\n  - 0x40bf08f7\n  - 0x40bf08f8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write keyfile: %v", err)
	}
	table, err := keymap.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}
	codes, _ := table.Get("mute")
	if want := []string{"0x40bf08f7", "0x40bf08f8"}; !reflect.DeepEqual(codes, want) {
		t.Fatalf("mute codes = %v, want %v", codes, want)
	}
}

func TestTableMarshalJSONRoundtrip(t *testing.T) {
	t.Parallel()

	table, err := keymap.ParseJSON([]byte(`{"power": ["a", "b"]}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	data, err := json.Marshal(table)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string][]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if want := map[string][]string{"power": {"a", "b"}}; !reflect.DeepEqual(decoded, want) {
		t.Fatalf("roundtrip = %v, want %v", decoded, want)
	}
}

func TestLoadLayout(t *testing.T) {
	t.Parallel()

	if layout, err := keymap.LoadLayout(""); err != nil || layout != nil {
		t.Fatalf("empty path should yield nil layout, got %v, %v", layout, err)
	}

	path := filepath.Join(t.TempDir(), "layout.json")
	if err := os.WriteFile(path, []byte(`[["power"],["vol_up","vol_down"]]`), 0o600); err != nil {
		t.Fatalf("write layout: %v", err)
	}
	layout, err := keymap.LoadLayout(path)
	if err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}
	if !json.Valid(layout) {
		t.Fatal("layout is not valid JSON")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{not json`), 0o600); err != nil {
		t.Fatalf("write layout: %v", err)
	}
	if _, err := keymap.LoadLayout(bad); err == nil {
		t.Fatal("expected error for invalid layout JSON")
	}
}
