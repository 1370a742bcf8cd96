package handlers

import (
	"net/http"

	"github.com/saltyorg/lighter/internal/maintenance"
)

// StreamStatus describes the event streams
type StreamStatus struct {
	Running bool `json:"running"`
	Clients int  `json:"clients"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Version     string              `json:"version"`
	Records     int                 `json:"records"`
	Streams     StreamStatus        `json:"streams"`
	Maintenance *maintenance.Status `json:"maintenance,omitempty"`
}

// Status reports the record count, stream clients and next maintenance runs
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	count, err := h.records.Count(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := StatusResponse{
		Version: h.versionInfo.Version,
		Records: count,
	}

	if h.streams != nil {
		resp.Streams.Clients = h.streams.ClientCount()
		select {
		case <-h.streams.Done():
		default:
			resp.Streams.Running = true
		}
	}

	if h.maintenance != nil {
		status := h.maintenance.Status()
		resp.Maintenance = &status
	}

	h.jsonResponse(w, resp, http.StatusOK)
}
