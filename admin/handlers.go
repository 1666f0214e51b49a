package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/binlogstream/publisher"
	"github.com/maxpert/binlogstream/stream"
	"github.com/rs/zerolog/log"
)

// StreamController is the part of stream.Manager the admin API needs
type StreamController interface {
	Status(name string) (stream.Status, bool)
	Statuses() []stream.Status
	Stop(name string) bool
}

// PublisherStats reports publish log and sink progress
type PublisherStats interface {
	Stats() publisher.RegistryStats
}

// AdminHandlers serves stream and publisher state
type AdminHandlers struct {
	streams   StreamController
	publisher PublisherStats
}

// NewAdminHandlers creates a new AdminHandlers instance. pub may be nil when
// the publisher is disabled.
func NewAdminHandlers(streams StreamController, pub PublisherStats) *AdminHandlers {
	return &AdminHandlers{
		streams:   streams,
		publisher: pub,
	}
}

type healthResponse struct {
	Status  string   `json:"status"`
	Streams int      `json:"streams"`
	Active  int      `json:"active"`
	Failed  []string `json:"failed,omitempty"`
}

// handleHealth reports degraded with 503 while any stream has failed
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := h.streams.Statuses()
	resp := healthResponse{Status: "ok", Streams: len(statuses)}
	for _, s := range statuses {
		switch s.State {
		case stream.StateRunning, stream.StateFollowing:
			resp.Active++
		case stream.StateFailed:
			resp.Failed = append(resp.Failed, s.Name)
		}
	}
	if len(resp.Failed) > 0 {
		resp.Status = "degraded"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSONBody(w, map[string]interface{}{"data": resp})
		return
	}
	writeJSONResponse(w, resp, false, "")
}

func (h *AdminHandlers) handleListStreams(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	from := parseFrom(r)

	out := make([]stream.Status, 0)
	hasMore := false
	for _, s := range h.streams.Statuses() {
		if from != "" && s.Name <= from {
			continue
		}
		if len(out) == limit {
			hasMore = true
			break
		}
		out = append(out, s)
	}

	lastKey := ""
	if hasMore {
		lastKey = out[len(out)-1].Name
	}
	writeJSONResponse(w, out, hasMore, lastKey)
}

func (h *AdminHandlers) handleGetStream(w http.ResponseWriter, r *http.Request, name string) {
	s, ok := h.streams.Status(name)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("stream '%s' not found", name))
		return
	}
	writeJSONResponse(w, s, false, "")
}

func (h *AdminHandlers) handleStopStream(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := h.streams.Status(name); !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("stream '%s' not found", name))
		return
	}
	if !h.streams.Stop(name) {
		writeErrorResponse(w, http.StatusConflict, fmt.Sprintf("stream '%s' is not running", name))
		return
	}
	log.Info().Str("stream", name).Msg("Stream stop requested via admin API")
	writeJSONResponse(w, map[string]interface{}{"stopped": name}, false, "")
}

func (h *AdminHandlers) handlePublisher(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeErrorResponse(w, http.StatusNotFound, "publisher is not enabled")
		return
	}
	writeJSONResponse(w, h.publisher.Stats(), false, "")
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSONBody(w, response)
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSONBody(w, map[string]interface{}{"error": message})
}

func writeJSONBody(w http.ResponseWriter, body interface{}) {
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

// parseFrom returns the stream name to continue listing after
func parseFrom(r *http.Request) string {
	return r.URL.Query().Get("from")
}
