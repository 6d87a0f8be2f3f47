package channel

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodySize bounds a call body.
const maxBodySize = 1 << 20

// Handler serves the dispatcher over HTTP:
//
//	POST /did_sdk  {"method": "...", "arguments": {...}}
//	GET  /healthz
//
// Call results are always answered with 200 and an Envelope; only a body
// that is not a call is answered with 400.
func (d *Dispatcher) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /did_sdk", d.handleCall)
	mux.HandleFunc("GET /healthz", handleHealth)

	return otelhttp.NewHandler(mux, "did_sdk")
}

func (d *Dispatcher) handleCall(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := d.logger.With().Str("request_id", requestID).Logger()
	ctx := logger.WithContext(r.Context())

	var call Call
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&call); err != nil || call.Method == "" {
		logger.Warn().Err(err).Msg("malformed call")
		http.Error(w, "malformed call", http.StatusBadRequest)
		return
	}

	env := d.Dispatch(ctx, call)
	env["requestId"] = requestID

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Error().Err(err).Msg("failed to write response")
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
