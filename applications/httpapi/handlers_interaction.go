package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

type interactionResponse struct {
	State string `json:"state"`
}

// handleLike applies the caller's like toward {aid} (spec.md §4.6).
func (h *handler) handleLike(w http.ResponseWriter, r *http.Request) {
	it, err := h.InteractionEngine.Like(r.Context(), callerAccountID(r), mux.Vars(r)["aid"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionResponse{State: string(it.State)})
}

// handleUnlike reverts the caller's own pending like back to empty.
func (h *handler) handleUnlike(w http.ResponseWriter, r *http.Request) {
	it, err := h.InteractionEngine.Unlike(r.Context(), callerAccountID(r), mux.Vars(r)["aid"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionResponse{State: string(it.State)})
}

// handleBlock sets the caller's block direction against {aid}.
func (h *handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	it, err := h.InteractionEngine.Block(r.Context(), callerAccountID(r), mux.Vars(r)["aid"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionResponse{State: string(it.State)})
}

type reportRequest struct {
	ContentID string `json:"content_id"`
	Reason    string `json:"reason"`
}

// handleReport files the caller's complaint against {aid} for the admin
// queue (spec.md §4.8).
func (h *handler) handleReport(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[reportRequest](w, r)
	if !ok {
		return
	}
	rep, err := h.InteractionEngine.ReportUser(r.Context(), callerAccountID(r), mux.Vars(r)["aid"], req.ContentID, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}
