package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

// SessionController is the session surface the auth handlers drive.
type SessionController interface {
	SessionGuard
	Login(ctx context.Context, creds domainauth.Credentials) (domainauth.Session, error)
	Logout(ctx context.Context)
}

// AuthHandlers serves the login, logout, and session status endpoints.
type AuthHandlers struct {
	Svc    SessionController
	Logger *slog.Logger
}

type loginRequest struct {
	Kind      string `json:"kind"`
	Login     string `json:"login,omitempty"`
	StudentID string `json:"student_id,omitempty"`
	Password  string `json:"password"`
	Redirect  string `json:"redirect_uri,omitempty"`
}

type loginResponse struct {
	Authenticated bool                 `json:"authenticated"`
	Identity      *domainauth.Identity `json:"identity,omitempty"`
	RedirectURI   string               `json:"redirect_uri"`
}

func (r loginRequest) credentials() (domainauth.Credentials, error) {
	kind, ok := domainauth.ParsePrincipalKind(r.Kind)
	if !ok {
		return nil, apperrors.ValidationField("kind", "kind must be staff or student")
	}
	if kind == domainauth.PrincipalStudent {
		return domainauth.StudentCredentials{StudentID: r.StudentID, Password: r.Password}, nil
	}
	return domainauth.StaffCredentials{Login: r.Login, Password: r.Password}, nil
}

// Login handles POST /auth/login with a JSON body.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	creds, err := req.credentials()
	if err != nil {
		writeAppError(w, err)
		return
	}

	if _, err := h.Svc.Login(r.Context(), creds); err != nil {
		h.logger().InfoContext(r.Context(), "login rejected", "kind", req.Kind, "error", err)
		writeAppError(w, err)
		return
	}

	resp := loginResponse{Authenticated: true, RedirectURI: safeRedirectPath(req.Redirect)}
	if identity, ok := h.Svc.Identity(); ok {
		resp.Identity = &identity
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout. It always succeeds.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.Svc.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me. It expects RequireSession to have run.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, identity)
}

// Status handles GET /auth/status and never fails.
func (h *AuthHandlers) Status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"authenticated": h.Svc.IsAuthenticated()}
	if identity, ok := h.Svc.Identity(); ok {
		resp["principal_kind"] = identity.PrincipalKind
		resp["role"] = identity.Role
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// writeAppError maps an AppError code to an HTTP status and writes it as JSON.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeAuthenticationFailed, apperrors.ErrCodeTokenExpired, apperrors.ErrCodeRefreshFailed:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeForbidden, apperrors.ErrCodeIntegrityViolation:
		status = http.StatusForbidden
	case apperrors.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.ErrCodeNetwork:
		status = http.StatusBadGateway
	}
	if code == "" {
		code = apperrors.ErrCodeInternal
	}

	body := map[string]string{
		"error":   string(code),
		"message": apperrors.UserMessage(err, http.StatusText(status)),
	}
	if field := apperrors.GetField(err); field != "" {
		body["field"] = field
	}
	WriteJSON(w, status, body)
}
