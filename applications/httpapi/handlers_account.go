package httpapi

import (
	"encoding/json"
	"net/http"

	accountapp "github.com/nearloop/backend/applications/account"
)

type registerRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	AccountID    string `json:"account_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
}

// handleRegister is the debug-only direct signup path (spec.md §6:
// "Debug-only, returns new AccountId").
func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.Accounts.Register(r.Context(), req.Email)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoginResponse(res))
}

// signInWithRequest carries at most one of Apple/Google identity token
// payloads; verifying either is out of scope here (see
// applications/account's package doc), so AppleIdentity/GoogleIdentity
// are accepted pre-verified, matching a gateway that already checked
// the token's signature against the provider's JWKS.
type signInWithRequest struct {
	Apple              *identityPayload `json:"apple,omitempty"`
	Google             *identityPayload `json:"google,omitempty"`
	DisableRegistering bool             `json:"disable_registering"`
}

type identityPayload struct {
	SubjectID string `json:"subject_id"`
	Email     string `json:"email"`
}

func (h *handler) handleSignInWithLogin(w http.ResponseWriter, r *http.Request) {
	var req signInWithRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var claim accountapp.IdentityClaim
	switch {
	case req.Apple != nil:
		claim = accountapp.IdentityClaim{Provider: "apple", ProviderAccountID: req.Apple.SubjectID, Email: req.Apple.Email}
	case req.Google != nil:
		claim = accountapp.IdentityClaim{Provider: "google", ProviderAccountID: req.Google.SubjectID, Email: req.Google.Email}
	default:
		writeError(w, http.StatusBadRequest, "one of apple or google identity is required")
		return
	}

	disableRegistering := req.DisableRegistering || h.DisableRegistering
	res, err := h.Accounts.SignInWith(r.Context(), claim, disableRegistering)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func toLoginResponse(res accountapp.LoginResult) loginResponse {
	return loginResponse{
		AccountID:    res.AccountID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Email:        res.Email,
	}
}
