package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/store"
)

// PoseHandler serves the label to pose table. Overrides are persisted when
// a store is configured.
type PoseHandler struct {
	table *pose.Table
	store *store.Store
}

// NewPoseHandler creates a PoseHandler. s may be nil, in which case
// overrides only live in memory.
func NewPoseHandler(table *pose.Table, s *store.Store) *PoseHandler {
	return &PoseHandler{table: table, store: s}
}

// ServeHTTP routes /api/poses and /api/poses/{label}.
func (h *PoseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/poses")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	// Labels may contain spaces ("hard of hearing").
	label := path
	if !h.table.Known(label) {
		writeError(w, http.StatusNotFound, "Unknown label")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.entry(label))
	case http.MethodPut:
		h.update(w, r, label)
	case http.MethodDelete:
		h.delete(w, r, label)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// PoseEntry is one label with its resolved pose.
type PoseEntry struct {
	Index      int       `json:"index"`
	Label      string    `json:"label"`
	Pose       pose.Pose `json:"pose"`
	Overridden bool      `json:"overridden"`
}

type listPosesResponse struct {
	Poses []PoseEntry `json:"poses"`
}

func (h *PoseHandler) entry(label string) PoseEntry {
	index := -1
	for i, l := range h.table.Labels() {
		if l == label {
			index = i
			break
		}
	}
	return PoseEntry{
		Index:      index,
		Label:      label,
		Pose:       h.table.Lookup(label),
		Overridden: h.table.Overridden(label),
	}
}

// Entries returns every label in class order with its pose.
func (h *PoseHandler) Entries() []PoseEntry {
	labels := h.table.Labels()
	entries := make([]PoseEntry, 0, len(labels))
	for _, label := range labels {
		entries = append(entries, h.entry(label))
	}
	return entries
}

func (h *PoseHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listPosesResponse{Poses: h.Entries()})
}

func (h *PoseHandler) update(w http.ResponseWriter, r *http.Request, label string) {
	var p pose.Pose
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if p.Duration == 0 {
		p.Duration = pose.DefaultDuration
	}
	if p.Bones == nil {
		p.Bones = map[string]pose.Rotation{}
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.store != nil {
		raw, err := p.Encode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode pose")
			return
		}
		if err := h.store.Poses().Upsert(&store.PoseBinding{Label: label, Pose: raw}); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save pose")
			return
		}
	}
	if err := h.table.Set(label, p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.entry(label))
}

func (h *PoseHandler) delete(w http.ResponseWriter, r *http.Request, label string) {
	if !h.table.Overridden(label) {
		writeError(w, http.StatusNotFound, "Pose override not found")
		return
	}
	if h.store != nil {
		if err := h.store.Poses().Delete(label); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "Failed to delete pose")
			return
		}
	}
	h.table.Remove(label)
	w.WriteHeader(http.StatusNoContent)
}
