package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/irkeyd/irkeyd/api"
	"github.com/irkeyd/irkeyd/internal/irsend"
)

// httpError carries an HTTP status plus the stable error code written into
// the api.ErrorResponse envelope.
type httpError struct {
	Status int
	Code   string
	Detail string
}

func (e httpError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// sendError converts a Command Sender failure into the API taxonomy. The
// original service answered 500 for every send-level failure, including
// unknown keys, and clients depend on the error code rather than the status.
func sendError(err error) httpError {
	switch {
	case errors.Is(err, irsend.ErrUnknownKey):
		return httpError{Status: http.StatusInternalServerError, Code: api.ErrCodeUnknownKey, Detail: err.Error()}
	case errors.Is(err, irsend.ErrEmptyScancodes):
		return httpError{Status: http.StatusInternalServerError, Code: api.ErrCodeEmptyScancodes, Detail: err.Error()}
	default:
		var missing *irsend.ToolMissingError
		if errors.As(err, &missing) {
			return httpError{Status: http.StatusInternalServerError, Code: api.ErrCodeToolMissing, Detail: err.Error()}
		}
		return httpError{Status: http.StatusInternalServerError, Code: api.ErrCodeCommandFailed, Detail: err.Error()}
	}
}

func decodeJSONBody(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Trailing garbage after the JSON value is a malformed request too.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}
