package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// handleStateStream streams controller snapshots using Server-Sent Events.
// The current snapshot is sent first, then one per state change.
func (h *Handler) handleStateStream(w http.ResponseWriter, r *http.Request) {
	slog.Debug("New state stream connection", "remote_addr", r.RemoteAddr)

	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("Streaming unsupported: ResponseWriter does not implement http.Flusher")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	if err := h.sendSSEEvent(w, flusher, "snapshot", h.ctrl.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("State stream closed", "remote_addr", r.RemoteAddr)
			return
		case snap := <-updates:
			if err := h.sendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sendSSEEvent sends a server-sent event.
func (h *Handler) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal SSE data", "error", err)
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		slog.Debug("Failed to write SSE event", "error", err)
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		slog.Debug("Failed to write SSE data", "error", err)
		return err
	}
	flusher.Flush()
	return nil
}
