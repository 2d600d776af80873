package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"aduanet.org/internal/audit"
	"aduanet.org/internal/auth"
	"aduanet.org/internal/identity"
)

// Row endpoints mirror the hosted vendor's table API, restricted to the two
// tables the identity layer owns. Row-level access rules are enforced here:
// non-admin callers see their own profile and their own company only.
func (a *API) handleRows(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if table == "" || strings.Contains(table, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	caller, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no session")
		return
	}

	switch table {
	case "profiles":
		a.handleProfileRows(w, r, caller)
	case "companies":
		a.handleCompanyRows(w, r, caller)
	default:
		writeError(w, r, http.StatusNotFound, "unknown table")
	}
}

func (a *API) handleProfileRows(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if id == "" && email == "" {
		id = caller.ID
	}

	var (
		profile *auth.Profile
		err     error
	)
	switch {
	case id != "":
		profile, err = a.store.Profiles(r.Context()).Find(r.Context(), id)
	default:
		profile, err = a.store.Profiles(r.Context()).FindByEmail(r.Context(), email)
	}
	if errors.Is(err, auth.ErrNotFound) {
		writeJSON(w, http.StatusOK, []map[string]any{})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "profile lookup failed")
		return
	}
	if profile.ID != caller.ID && caller.Role != identity.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "row access denied")
		return
	}

	writeJSON(w, http.StatusOK, []map[string]any{profileRow(profile)})
}

func (a *API) handleCompanyRows(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	switch r.Method {
	case http.MethodGet:
		a.selectCompany(w, r, caller)
	case http.MethodPost:
		a.insertCompany(w, r, caller)
	case http.MethodPatch:
		a.updateCompany(w, r, caller)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodPatch)
	}
}

func (a *API) selectCompany(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		id = caller.CompanyID
	}
	if id == "" {
		writeJSON(w, http.StatusOK, []map[string]any{})
		return
	}
	if err := requireCompanyAccess(caller, id); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	row, err := a.store.Companies(r.Context()).Find(r.Context(), id)
	if errors.Is(err, auth.ErrNotFound) {
		writeJSON(w, http.StatusOK, []map[string]any{})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "company lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, []map[string]any{row})
}

// insertCompany lets a caller without a company create one and become linked
// to it. Admins can create companies freely.
func (a *API) insertCompany(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	if caller.CompanyID != "" && caller.Role != identity.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "caller already has a company")
		return
	}

	var row map[string]any
	if err := decodeJSON(w, r, &row); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.store.Companies(r.Context()).Create(r.Context(), row)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "company create failed")
		return
	}
	companyID, _ := created["id"].(string)
	if caller.CompanyID == "" && companyID != "" {
		if err := a.store.Profiles(r.Context()).SetCompany(r.Context(), caller.ID, companyID); err != nil {
			writeError(w, r, http.StatusInternalServerError, "company link failed")
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "company.created", map[string]any{"company_id": companyID})
	writeJSON(w, http.StatusCreated, []map[string]any{created})
}

func (a *API) updateCompany(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		id = caller.CompanyID
	}
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "company id is required")
		return
	}
	if err := requireCompanyAccess(caller, id); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	var patch map[string]any
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	delete(patch, "id")

	row, err := a.store.Companies(r.Context()).Update(r.Context(), id, patch)
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "company not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "company update failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "company.updated", map[string]any{"company_id": id})
	writeJSON(w, http.StatusOK, []map[string]any{row})
}

func requireCompanyAccess(caller identity.Identity, companyID string) error {
	if caller.Role == identity.RoleAdmin {
		return nil
	}
	if caller.CompanyID != companyID {
		return errors.New("row access denied")
	}
	return nil
}

func profileRow(p *auth.Profile) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"email":          p.Email,
		"role":           p.Role,
		"company_id":     p.CompanyID,
		"email_verified": p.EmailVerified,
	}
}

// --- shared handler helpers ---

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
