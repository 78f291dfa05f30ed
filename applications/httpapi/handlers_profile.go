package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/interaction"
)

type resetIteratorResponse struct {
	SessionID string `json:"session_id"`
}

func (h *handler) handleResetIterator(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.Profiles.ResetIterator(r.Context(), callerAccountID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resetIteratorResponse{SessionID: sessionID})
}

type nextProfilesRequest struct {
	SessionID string `json:"session_id"`
}

type pageResponse struct {
	AccountIDs []string `json:"account_ids"`
	SessionID  string   `json:"session_id"`
}

func (h *handler) handleNextProfiles(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[nextProfilesRequest](w, r)
	if !ok {
		return
	}

	page, err := h.Profiles.NextProfiles(r.Context(), callerAccountID(r), req.SessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{AccountIDs: page.AccountIDs, SessionID: page.SessionID})
}

type profileResponse struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	Age         int32  `json:"age"`
}

// handleGetProfile enforces spec.md §6's "visibility-gated" note: a
// public(-pending) profile is visible to anyone; a private(-pending) one
// only to its owner or an account it has matched with.
func (h *handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["aid"]
	callerID := callerAccountID(r)

	target, err := h.AccountStore.GetAccount(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	if target.Visibility != account.VisibilityPublic && target.Visibility != account.VisibilityPendingPublic && targetID != callerID {
		matched, err := h.isMatched(r.Context(), callerID, targetID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if !matched {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
	}

	p, err := h.ProfileStore.GetProfile(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		AccountID:   p.AccountID,
		DisplayName: p.DisplayName,
		Text:        p.Text,
		Age:         p.Age,
	})
}

func (h *handler) isMatched(ctx context.Context, callerID, targetID string) (bool, error) {
	if h.Interactions == nil || callerID == "" {
		return false, nil
	}
	it, ok, err := h.Interactions.GetInteraction(ctx, callerID, targetID)
	if err != nil {
		return false, err
	}
	return ok && it.State == interaction.StateMatch, nil
}
