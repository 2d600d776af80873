package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"aduanet.org/internal/audit"
	"aduanet.org/internal/auth"
	"aduanet.org/internal/identity"
)

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type verifyRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	CompanyID     string `json:"company_id"`
	EmailVerified bool   `json:"email_verified"`
}

func profilePayload(p *auth.Profile) userPayload {
	return userPayload{
		ID:            p.ID,
		Email:         p.Email,
		Role:          p.Role,
		CompanyID:     p.CompanyID,
		EmailVerified: p.EmailVerified,
	}
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, profile, err := a.auth.SignUp(r.Context(), req.Email, req.Password, req.CompanyName)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"profile_id": profile.ID,
		"company_id": profile.CompanyID,
	})

	writeJSON(w, http.StatusCreated, sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         profilePayload(profile),
	})
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		pair    auth.TokenPair
		profile *auth.Profile
		err     error
		event   string
	)
	switch strings.TrimSpace(req.GrantType) {
	case "password":
		pair, profile, err = a.auth.SignIn(r.Context(), req.Email, req.Password)
		event = "auth.signin"
	case "refresh_token":
		pair, profile, err = a.auth.Refresh(r.Context(), req.RefreshToken)
		event = "auth.refresh"
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported grant_type")
		return
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), event, map[string]any{"profile_id": profile.ID})

	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         profilePayload(profile),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.SignOut(r.Context(), req.RefreshToken); err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.signout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no session")
		return
	}
	writeJSON(w, http.StatusOK, userPayload{
		ID:            id.ID,
		Email:         id.Email,
		Role:          id.Role,
		CompanyID:     id.CompanyID,
		EmailVerified: id.Verified,
	})
}

// handleVerify marks an account's email as confirmed. Callers may verify
// themselves; anything else needs the admin role.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	caller, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no session")
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = caller.ID
	}
	if target != caller.ID && caller.Role != identity.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	if err := a.auth.MarkEmailVerified(r.Context(), target); err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.email_verified", map[string]any{"profile_id": target})
	w.WriteHeader(http.StatusNoContent)
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
