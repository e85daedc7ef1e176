package httpapi

import (
	"net/http"
	"strings"
	"time"

	"opsgate.io/internal/auth"
)

const refreshCookieName = "refreshToken"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Verified  bool      `json:"verified"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token"`
	TokenType        string     `json:"token_type"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	Account          accountDTO `json:"account"`
}

func toTokenResponse(pair auth.TokenPair, account *auth.Account) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Account:          accountDTO{ID: account.ID, Email: account.Email, Role: string(account.Role)},
	}
}

type accountDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toAccountResponse(a *auth.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Email:     a.Email,
		Role:      string(a.Role),
		Verified:  a.Verified,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, err := a.auth.Register(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, account, err := a.auth.Login(r.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, toTokenResponse(pair, account))
}

// handleRefresh accepts the refresh token from the HttpOnly cookie set at
// login, or from the body for non-browser clients.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := ""
	if c, err := r.Cookie(refreshCookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err == nil {
			token = req.RefreshToken
		}
	}
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired credentials")
		return
	}
	pair, account, err := a.auth.Refresh(r.Context(), token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, toTokenResponse(pair, account))
}

// handleLogout clears the refresh cookie. Access tokens stay valid until
// they expire; the scheme is stateless.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          identity.ID,
		"email":       identity.Email,
		"role":        string(identity.Role),
		"permissions": auth.PermissionsFor(identity.Role),
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ChangePassword(r.Context(), identity.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAPIKey manages the caller's own key. POST mints a new key and returns
// the plaintext exactly once, DELETE revokes it.
func (a *API) handleAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	switch r.Method {
	case http.MethodPost:
		key, err := a.auth.GenerateAPIKey(r.Context(), identity.ID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"api_key": key,
		})
	case http.MethodDelete:
		if err := a.auth.RevokeAPIKey(r.Context(), identity.ID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleAdminAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermUsersManage); !ok {
		return
	}
	accounts, err := a.auth.ListAccounts(r.Context(), 200)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, acct := range accounts {
		out = append(out, toAccountResponse(acct))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// handleAdminAccountScoped routes /v1/admin/accounts/{id}/{action}.
func (a *API) handleAdminAccountScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/accounts/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	accountID := parts[0]
	switch parts[1] {
	case "role":
		a.handleAdminSetRole(w, r, accountID)
	case "deactivate":
		a.handleAdminDeactivate(w, r, accountID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAdminSetRole(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermUsersManage); !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ChangeRole(r.Context(), accountID, auth.Role(strings.ToLower(strings.TrimSpace(req.Role)))); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminDeactivate(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermUsersManage); !ok {
		return
	}
	if err := a.auth.Deactivate(r.Context(), accountID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermLogsView); !ok {
		return
	}
	events, err := a.auth.RecentEvents(r.Context(), 200)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	type eventResponse struct {
		ID         string            `json:"id"`
		OccurredAt time.Time         `json:"occurred_at"`
		Kind       string            `json:"kind"`
		AccountID  string            `json:"account_id,omitempty"`
		Email      string            `json:"email,omitempty"`
		IP         string            `json:"ip,omitempty"`
		Fields     map[string]string `json:"fields,omitempty"`
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:         e.ID,
			OccurredAt: e.OccurredAt,
			Kind:       e.Kind,
			AccountID:  e.AccountID,
			Email:      e.Email,
			IP:         e.IP,
			Fields:     e.Fields,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *API) setRefreshCookie(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
