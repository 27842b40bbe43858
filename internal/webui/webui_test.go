package webui_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/irkeyd/irkeyd/internal/webui"
)

func TestRenderInjectsValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := webui.Render(&buf, webui.Data{
		Keymap:           json.RawMessage(`{"power":["0x40bf00ff"]}`),
		Layout:           json.RawMessage(`[["power"]]`),
		RepeatIntervalMS: 100,
		MaxHoldMS:        5000,
		ClientID:         "web-421f",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`"power":["0x40bf00ff"]`,
		`[["power"]]`,
		"REPEAT_INTERVAL_MS = 100",
		"MAX_HOLD_MS = 5000",
		"web-421f",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered page missing %q", want)
		}
	}
}

func TestRenderDefaultsMissingLayoutToNull(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := webui.Render(&buf, webui.Data{
		Keymap:           json.RawMessage(`{"power":["a"]}`),
		RepeatIntervalMS: 100,
		MaxHoldMS:        5000,
		ClientID:         "c",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "KEY_LAYOUT = null") {
		t.Fatal("missing layout should render as null")
	}
}

func TestRenderRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := webui.Render(&buf, webui.Data{Keymap: json.RawMessage(`{broken`)})
	if err == nil {
		t.Fatal("expected error for invalid keymap JSON")
	}
}
