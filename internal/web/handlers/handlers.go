package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/lighter/internal/database"
	"github.com/saltyorg/lighter/internal/maintenance"
	"github.com/saltyorg/lighter/internal/records"
)

// RecordService is the asynchronous record API the handlers call
type RecordService interface {
	GetAll(ctx context.Context) ([]database.WeightRecord, error)
	LoadAllByIDs(ctx context.Context, ids []int64) ([]database.WeightRecord, error)
	InsertAll(ctx context.Context, batch []database.WeightRecord) ([]database.WeightRecord, error)
	Delete(ctx context.Context, record database.WeightRecord) error
	Count(ctx context.Context) (int, error)
}

// MaintenanceStatus reports the housekeeping schedule
type MaintenanceStatus interface {
	Status() maintenance.Status
}

// StreamStats reports the state of the event streams
type StreamStats interface {
	ClientCount() int
	Done() <-chan struct{}
}

// VersionInfo holds application version information
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	records     RecordService
	maintenance MaintenanceStatus
	streams     StreamStats
	versionInfo VersionInfo
}

// New creates a new Handlers instance
func New(records RecordService, version VersionInfo) *Handlers {
	return &Handlers{
		records:     records,
		versionInfo: version,
	}
}

// SetStatusSources sets the collaborators reported by Status. Either may be nil.
func (h *Handlers) SetStatusSources(maintenance MaintenanceStatus, streams StreamStats) {
	h.maintenance = maintenance
	h.streams = streams
}

// jsonResponse writes v as JSON with the given status
func (h *Handlers) jsonResponse(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// jsonError sends a JSON error response
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]string{"error": message}, status)
}

// serviceError maps a record service error to a response
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, records.ErrStopped):
		h.jsonError(w, "record service is not running", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		h.jsonError(w, "operation timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send
		log.Debug().Str("path", r.URL.Path).Msg("Request cancelled")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Record operation failed")
		h.jsonError(w, "record operation failed", http.StatusInternalServerError)
	}
}
