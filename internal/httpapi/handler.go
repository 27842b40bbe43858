// Package httpapi wires the irkeyd HTTP endpoints to the press registry and
// the command sender. It owns request parsing, the error envelope, and
// per-request logging; all press semantics live in internal/press.
package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/irkeyd/irkeyd/api"
	"github.com/irkeyd/irkeyd/internal/keymap"
	"github.com/irkeyd/irkeyd/internal/press"
	"github.com/irkeyd/irkeyd/internal/svcfields"
	"github.com/irkeyd/irkeyd/internal/webui"
)

const defaultMaxBodyBytes = 64 << 10

// Config assembles the collaborators the handler dispatches to.
type Config struct {
	// Sender performs synchronous click sends.
	Sender press.Sender
	// Registry tracks held-key sessions for down/up.
	Registry *press.Registry
	// Keymap is the immutable key table, served on /key.json and injected
	// into the remote page.
	Keymap *keymap.Table
	// Layout is the optional raw layout JSON passed through to the page.
	Layout json.RawMessage
	// RepeatInterval and MaxHold are surfaced to the page as hints.
	RepeatInterval time.Duration
	MaxHold        time.Duration
	// MaxBodyBytes bounds /action request bodies; zero applies the default.
	MaxBodyBytes int64
	// Logger receives per-request logs; nil means no logging.
	Logger pslog.Logger
	// Registerer receives the handler's request counter when non-nil.
	Registerer prometheus.Registerer
	// NewClientID mints the client id injected into each served page.
	NewClientID func() string
}

// Handler routes the control API.
type Handler struct {
	sender      press.Sender
	registry    *press.Registry
	table       *keymap.Table
	keymapJSON  json.RawMessage
	layout      json.RawMessage
	interval    time.Duration
	maxHold     time.Duration
	maxBody     int64
	logger      pslog.Logger
	newClientID func() string

	httpRequests *prometheus.CounterVec
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// New constructs a Handler. The key table is serialized once up front; it is
// immutable for the process lifetime.
func New(cfg Config) (*Handler, error) {
	keymapJSON, err := json.Marshal(cfg.Keymap)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	newClientID := cfg.NewClientID
	if newClientID == nil {
		newClientID = func() string { return xid.New().String() }
	}
	h := &Handler{
		sender:      cfg.Sender,
		registry:    cfg.Registry,
		table:       cfg.Keymap,
		keymapJSON:  keymapJSON,
		layout:      cfg.Layout,
		interval:    cfg.RepeatInterval,
		maxHold:     cfg.MaxHold,
		maxBody:     maxBody,
		logger:      logger,
		newClientID: newClientID,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irkeyd_http_requests_total",
			Help: "HTTP requests served, by operation and status code.",
		}, []string{"op", "code"}),
	}
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(h.httpRequests); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Register mounts all endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/action", h.wrap("action", h.handleAction))
	mux.Handle("/key.json", h.wrap("keys", h.handleKeys))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealthz))
	mux.Handle("/", h.wrap("index", h.handleIndex))
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := xid.New().String()
		logger := svcfields.WithSubsystem(h.logger, "http."+operation).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		r = r.WithContext(pslog.ContextWithLogger(r.Context(), logger))

		rec := &statusRecorder{ResponseWriter: w}
		err := fn(rec, r)
		if err != nil {
			herr, ok := err.(httpError)
			if !ok {
				herr = httpError{Status: http.StatusInternalServerError, Code: "internal_error", Detail: err.Error()}
			}
			writeJSON(rec, herr.Status, api.ErrorResponse{OK: false, ErrorCode: herr.Code, Detail: herr.Detail})
			logger.Warn("request failed", "status", herr.Status, "code", herr.Code, "detail", herr.Detail, "elapsed", time.Since(start).String())
		} else {
			logger.Debug("request served", "status", rec.status, "elapsed", time.Since(start).String())
		}
		h.httpRequests.WithLabelValues(operation, strconv.Itoa(rec.status)).Inc()
	})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return httpError{Status: http.StatusMethodNotAllowed, Code: api.ErrCodeMalformedRequest, Detail: "POST required"}
	}
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	defer body.Close()

	var req api.ActionRequest
	if err := decodeJSONBody(body, &req); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: api.ErrCodeMalformedRequest, Detail: "invalid json: " + err.Error()}
	}
	req.Action = strings.TrimSpace(req.Action)
	req.Key = strings.TrimSpace(req.Key)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.Action == "" || req.Key == "" {
		return httpError{Status: http.StatusBadRequest, Code: api.ErrCodeMalformedRequest, Detail: "missing action/key"}
	}

	switch req.Action {
	case api.ActionClick:
		if err := h.sender.Send(r.Context(), req.Key); err != nil {
			return sendError(err)
		}
		writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Msg: "sent"})
		return nil

	case api.ActionDown:
		if req.ClientID == "" {
			return httpError{Status: http.StatusBadRequest, Code: api.ErrCodeMalformedRequest, Detail: "missing client_id"}
		}
		// A down is always acknowledged, even for a key that cannot
		// transmit; that session just ticks failure reports until it is
		// released or hits max hold.
		if h.registry.Start(req.ClientID, req.Key) {
			writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Msg: "started"})
		} else {
			writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Msg: "already down"})
		}
		return nil

	case api.ActionUp:
		if req.ClientID == "" {
			return httpError{Status: http.StatusBadRequest, Code: api.ErrCodeMalformedRequest, Detail: "missing client_id"}
		}
		if h.registry.Stop(req.ClientID, req.Key) {
			writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Msg: "stopping"})
		} else {
			writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Msg: "not active"})
		}
		return nil

	default:
		return httpError{Status: http.StatusBadRequest, Code: api.ErrCodeUnknownAction, Detail: "unknown action: " + req.Action}
	}
}

func (h *Handler) handleKeys(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return httpError{Status: http.StatusMethodNotAllowed, Code: api.ErrCodeMalformedRequest, Detail: "GET required"}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.keymapJSON)
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"active_sessions": h.registry.Active(),
		"keys":            h.table.Len(),
	})
	return nil
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) error {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "no such endpoint"}
	}
	if r.Method != http.MethodGet {
		return httpError{Status: http.StatusMethodNotAllowed, Code: api.ErrCodeMalformedRequest, Detail: "GET required"}
	}
	// Render to a buffer first so a template failure still yields a clean
	// error envelope instead of a half-written page.
	var buf bytes.Buffer
	err := webui.Render(&buf, webui.Data{
		Keymap:           h.keymapJSON,
		Layout:           h.layout,
		RepeatIntervalMS: h.interval.Milliseconds(),
		MaxHoldMS:        h.maxHold.Milliseconds(),
		ClientID:         h.newClientID(),
	})
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	return nil
}
