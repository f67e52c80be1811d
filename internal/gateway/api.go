// ABOUTME: HTTP flavour of the server API for clients that cannot speak gRPC
// ABOUTME: POST /api/{method} runs the shared Executor; GET /api/subscribe streams SSE

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/relay-gateway/internal/api"
)

// maxAPIBodySize caps HTTP API request bodies.
const maxAPIBodySize = 1 << 20

// handleAPICall handles POST /api/{method}.
// The reply is the same JSON the gRPC API returns: application errors are
// carried inside a 200 response. An unknown method is 404 and a body that
// does not decode is 400.
func (g *Gateway) handleAPICall(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAPIBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	reply, err := g.executor.Call(r.Context(), method, body)
	switch {
	case errors.Is(err, api.ErrMethodNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, api.ErrMalformedParams):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("http api call failed", "method", method, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	g.writeJSON(w, http.StatusOK, reply)
}

// handleSubscribe handles GET /api/subscribe?channel=X[&user=U][&offset=N&epoch=E].
// Publications are streamed as server-sent events; an application error is
// sent as a single "error" event.
func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &api.SubscribeRequest{
		Channel: q.Get("channel"),
		User:    q.Get("user"),
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		req.Since = &api.StreamPosition{Offset: offset, Epoch: q.Get("epoch")}
	}

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, replay, apiErr := g.executor.Subscribe(r.Context(), req)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if apiErr != nil {
		g.writeSSEEvent(w, "error", apiErr)
		flusher.Flush()
		return
	}
	defer sub.Close()

	g.writeSSEEvent(w, "subscribed", map[string]string{"channel": req.Channel, "subscription_id": sub.ID})
	flusher.Flush()

	err := api.ForwardPublications(r.Context(), sub, replay, func(pub *api.Publication) error {
		if err := g.writeSSEEvent(w, "publication", pub); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		g.logger.Debug("sse subscriber gone", "channel", req.Channel, "error", err)
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON); err != nil {
		return err
	}
	return nil
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to write JSON response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
