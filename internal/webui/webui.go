// Package webui serves the embedded remote-control page. The page is
// rendered once per request with the key table, optional layout, repeat
// timings, and a server-generated client id injected.
package webui

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
)

//go:embed remote.html.tmpl
var content embed.FS

var page = template.Must(template.ParseFS(content, "remote.html.tmpl"))

// Data carries the values injected into the remote page.
type Data struct {
	// Keymap is the key table as JSON.
	Keymap json.RawMessage
	// Layout is the optional button layout as JSON; nil renders "null".
	Layout json.RawMessage
	// RepeatIntervalMS is the client-side repeat hint in milliseconds.
	RepeatIntervalMS int64
	// MaxHoldMS is the server-side auto-release timeout in milliseconds.
	MaxHoldMS int64
	// ClientID is a fresh identifier the page uses for down/up tracking.
	ClientID string
}

type pageData struct {
	Keymap   template.JS
	Layout   template.JS
	Interval int64
	MaxHold  int64
	ClientID string
}

// Render writes the remote page to w.
func Render(w io.Writer, d Data) error {
	keymapJSON := d.Keymap
	if len(keymapJSON) == 0 {
		keymapJSON = json.RawMessage("{}")
	}
	layoutJSON := d.Layout
	if len(layoutJSON) == 0 {
		layoutJSON = json.RawMessage("null")
	}
	if !json.Valid(keymapJSON) || !json.Valid(layoutJSON) {
		return fmt.Errorf("webui: refusing to inject invalid JSON into the page")
	}
	return page.Execute(w, pageData{
		Keymap:   template.JS(keymapJSON),
		Layout:   template.JS(layoutJSON),
		Interval: d.RepeatIntervalMS,
		MaxHold:  d.MaxHoldMS,
		ClientID: d.ClientID,
	})
}
