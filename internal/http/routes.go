package httpx

import (
	"log/slog"
	"net/http"
)

// DefaultAppPrefix is the mount point of guarded application pages.
const DefaultAppPrefix = "/app"

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Session   SessionController
	LoginPath string
	// AppPrefix mounts the guarded pages; the remainder of the path is the
	// permission-checked page path. Defaults to /app.
	AppPrefix string
	// App serves pages that passed the guard. Defaults to a JSON echo of the
	// granted path and identity.
	App    http.Handler
	Logger *slog.Logger
}

// NewRouter creates the route-guard server: auth endpoints, health, and the
// permission-gated application pages.
func NewRouter(opts RouterOptions) http.Handler {
	if opts.Session == nil {
		panic("httpx: RouterOptions.Session is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.AppPrefix
	if prefix == "" {
		prefix = DefaultAppPrefix
	}
	app := opts.App
	if app == nil {
		app = http.HandlerFunc(grantedHandler)
	}

	guard := GuardOptions{Guard: opts.Session, LoginPath: opts.LoginPath, StripPrefix: prefix}
	auth := &AuthHandlers{Svc: opts.Session, Logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)

	mux.HandleFunc("POST /auth/login", auth.Login)
	mux.HandleFunc("POST /auth/logout", auth.Logout)
	mux.HandleFunc("GET /auth/status", auth.Status)
	mux.Handle("GET /auth/me", RequireSession(guard)(http.HandlerFunc(auth.Me)))

	mux.Handle("GET "+prefix+"/{path...}", RequirePath(guard)(app))

	var h http.Handler = mux
	h = BrowserDetection()(h)
	h = Logging(logger)(h)
	h = Recover(logger)(h)
	return h
}

// grantedHandler reports the page path that passed the guard.
func grantedHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"path": r.PathValue("path"), "granted": true}
	if identity, ok := IdentityFromContext(r.Context()); ok {
		resp["role"] = identity.Role
		resp["principal_kind"] = identity.PrincipalKind
	}
	WriteJSON(w, http.StatusOK, resp)
}
