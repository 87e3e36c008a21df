package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
)

// SessionGuard is the read side of the session the guards consult.
// *service.SessionManager implements it.
type SessionGuard interface {
	IsAuthenticated() bool
	Identity() (domainauth.Identity, bool)
	CanAccessPath(ctx context.Context, path string) bool
}

// GuardOptions configures RequireSession and RequirePath.
type GuardOptions struct {
	Guard SessionGuard
	// LoginPath receives unauthenticated browser requests; default /login.
	LoginPath string
	// StripPrefix is removed from the request path before the permission check,
	// so /app/students is checked as students.
	StripPrefix string
}

func (o GuardOptions) loginPath() string {
	if o.LoginPath == "" {
		return "/login"
	}
	return o.LoginPath
}

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", requestID),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession returns a middleware that requires an authenticated session.
// For API requests: 401 JSON. For browser requests: redirect to the login page.
func RequireSession(opts GuardOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := opts.Guard.Identity()
			if !ok || !opts.Guard.IsAuthenticated() {
				unauthenticated(w, r, opts)
				return
			}
			ctx := SetIdentityInContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePath returns a middleware that admits the request only when the
// session may open its path. A session that the check itself ended (expired
// token, tampered permissions) is treated as unauthenticated.
func RequirePath(opts GuardOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.Guard.IsAuthenticated() {
				unauthenticated(w, r, opts)
				return
			}

			path := strings.TrimPrefix(r.URL.Path, opts.StripPrefix)
			if !opts.Guard.CanAccessPath(r.Context(), path) {
				if !opts.Guard.IsAuthenticated() {
					unauthenticated(w, r, opts)
					return
				}
				if IsBrowserRequest(r) {
					showAccessDenied(w, r)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "insufficient_permissions",
					Err:     errors.New("insufficient permissions"),
				})
				return
			}

			ctx := r.Context()
			if identity, ok := opts.Guard.Identity(); ok {
				ctx = SetIdentityInContext(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request, opts GuardOptions) {
	if IsBrowserRequest(r) {
		redirectToLogin(w, r, opts.loginPath())
		return
	}
	WriteError(w, ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: "authentication_required",
		Err:     errors.New("authentication required"),
	})
}

// browserRequestKey is an unexported context key type for browser request detection.
type browserRequestKey struct{}

// BrowserDetection returns a middleware that detects browser requests vs API requests.
// It sets a context value that can be used by downstream handlers to determine
// whether to redirect or return JSON.
func BrowserDetection() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), browserRequestKey{}, isBrowserRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsBrowserRequest returns true if the current request is from a browser.
func IsBrowserRequest(r *http.Request) bool {
	if val, ok := r.Context().Value(browserRequestKey{}).(bool); ok {
		return val
	}
	// Fallback to direct detection if middleware wasn't used
	return isBrowserRequest(r)
}

// isBrowserRequest determines if a request is from a browser based on:
// API routes start with /api/ and XHR callers ask for JSON; everything else
// accepting text/html is a page load.
func isBrowserRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "text/html")
}

// redirectToLogin redirects browser requests to the login page with the current URL as redirect_uri.
func redirectToLogin(w http.ResponseWriter, r *http.Request, loginPath string) {
	u := url.URL{Path: loginPath}
	q := url.Values{}
	q.Set("redirect_uri", safeRedirectPath(r.URL.RequestURI()))
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// safeRedirectPath keeps redirects inside the app: only relative paths starting
// with a single "/" are allowed.
func safeRedirectPath(candidate string) string {
	if candidate == "" || strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	return candidate
}

// showAccessDenied shows an access denied page for browser requests.
func showAccessDenied(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Access Denied: You don't have permission to access this resource", http.StatusForbidden)
}
