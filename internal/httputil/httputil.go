package httputil

import (
	"io"
	"net/http"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
)

// DecompressPayload adds a reader of the right type in case you need to
// decompress the body. Agents shipping large event batches are expected to
// compress them with brotli.
func DecompressPayload(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		if r.Header.Get("Content-Encoding") == "br" {
			r.Body = io.NopCloser(brotli.NewReader(r.Body))
		}

		next.ServeHTTP(w, r)
	})
}

// WriteJSON marshals v into the response with the given status code.
// Marshalling errors are reported to the hub and turned into a 500.
func WriteJSON(w http.ResponseWriter, hub *sentry.Hub, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// HTTPStatusCodeTag is the name of the HTTP status code tag.
const HTTPStatusCodeTag = "http.response.status_code"

// SetHTTPStatusCodeTag sets the status code tag for the current request on
// the top-level transaction.
func SetHTTPStatusCodeTag(e *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint.Response == nil {
		return e
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	if _, exists := e.Tags[HTTPStatusCodeTag]; !exists {
		e.Tags[HTTPStatusCodeTag] = strconv.Itoa(hint.Response.StatusCode)
	}
	return e
}
