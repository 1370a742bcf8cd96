package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saltyorg/lighter/internal/database"
)

// maxBodyBytes caps POST /api/records bodies
const maxBodyBytes = 1 << 20

// recordInput is one element of a POST /api/records body. A uid, if sent,
// is ignored.
type recordInput struct {
	Weight *float64 `json:"weight"`
	Date   string   `json:"date"`
	Time   string   `json:"time"`
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"ok":      true,
		"version": h.versionInfo.Version,
	}, http.StatusOK)
}

// ListRecords returns every record, or only those named by ?ids=1,2,3. An
// empty ids parameter is the empty set.
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	var (
		list []database.WeightRecord
		err  error
	)

	if query := r.URL.Query(); query.Has("ids") {
		ids, parseErr := ParseIDs(query.Get("ids"))
		if parseErr != nil {
			h.jsonError(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		list, err = h.records.LoadAllByIDs(r.Context(), ids)
	} else {
		list, err = h.records.GetAll(r.Context())
	}
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.jsonResponse(w, list, http.StatusOK)
}

// InsertRecords stores a JSON array of records as one batch
func (h *Handlers) InsertRecords(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var input []recordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.jsonError(w, "body must be a JSON array of records", http.StatusBadRequest)
		return
	}

	batch := make([]database.WeightRecord, 0, len(input))
	for i, in := range input {
		if in.Weight == nil {
			h.jsonError(w, fmt.Sprintf("record %d: weight is required", i), http.StatusBadRequest)
			return
		}
		batch = append(batch, database.WeightRecord{
			Weight: *in.Weight,
			Date:   in.Date,
			Time:   in.Time,
		})
	}

	inserted, err := h.records.InsertAll(r.Context(), batch)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.jsonResponse(w, inserted, http.StatusCreated)
}

// DeleteRecord removes a record by uid. Unknown uids still return 204.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid uid", http.StatusBadRequest)
		return
	}

	if err := h.records.Delete(r.Context(), database.WeightRecord{UID: uid}); err != nil {
		h.serviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ParseIDs parses a comma separated uid list such as "1,2,3"
func ParseIDs(raw string) ([]int64, error) {
	var ids []int64
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
