package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nearloop/backend/applications/content"
	domaincontent "github.com/nearloop/backend/domain/content"
)

func slotFromPath(r *http.Request) (int, bool) {
	raw := mux.Vars(r)["slot"]
	slot, err := strconv.Atoi(raw)
	return slot, err == nil
}

// handleUploadSlot streams the request body straight into
// content.Engine.UploadSlot (spec.md §6: "octet-stream (JPEG) +
// NewContentParams", bounded at content.MaxUploadBytes by the engine
// itself; http.MaxBytesReader here is only a second, earlier cutoff so an
// oversized upload doesn't get as far as the slot-state machine).
func (h *handler) handleUploadSlot(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "slot must be an integer")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, content.MaxUploadBytes+1)
	c, err := h.Content.UploadSlot(r.Context(), callerAccountID(r), slot, r.Body)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, slotStateResponse(c))
}

func (h *handler) handleGetSlotState(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "slot must be an integer")
		return
	}

	c, err := h.Content.SlotState(r.Context(), callerAccountID(r), slot)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slotStateResponse(c))
}

type slotState struct {
	Slot           int    `json:"slot"`
	State          string `json:"state"`
	Processing     string `json:"processing"`
	RejectCategory string `json:"reject_category,omitempty"`
	RejectReason   string `json:"reject_reason,omitempty"`
}

func slotStateResponse(c domaincontent.Content) slotState {
	return slotState{
		Slot:           c.Slot,
		State:          string(c.State),
		Processing:     string(c.Processing),
		RejectCategory: c.RejectCategory,
		RejectReason:   c.RejectReason,
	}
}
