package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents where tokens come from.
type AuthMode string

const (
	// AuthModeHTTP talks to the university API.
	AuthModeHTTP AuthMode = "http"
	// AuthModeDev uses the in-process dev identity provider (for development only).
	AuthModeDev AuthMode = "dev"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "http", "dev":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: http, dev)", v)
	}
}

const (
	defaultPermissionTTL  = 15 * time.Minute
	defaultRefreshTimeout = 15 * time.Second
	defaultDevTokenTTL    = time.Hour
)

// EndpointConfig locates the identity endpoints of each principal kind.
type EndpointConfig struct {
	StaffPrefix     string `env:"AUTH_STAFF_PREFIX"     envDefault:"/api/staff"`
	StudentPrefix   string `env:"AUTH_STUDENT_PREFIX"   envDefault:"/api/student"`
	PermissionsPath string `env:"AUTH_PERMISSIONS_PATH" envDefault:"/api/user/permissions"`
}

// ErrorExtractionConfig holds JMESPath expressions applied to error bodies.
// Empty values use the gateway defaults.
type ErrorExtractionConfig struct {
	MessageExpr string `env:"AUTH_ERROR_MESSAGE_EXPR"`
	FieldsExpr  string `env:"AUTH_ERROR_FIELDS_EXPR"`
}

// DevAuthConfig controls the in-process dev identity provider.
// Used when AUTH_MODE=dev for development and testing.
type DevAuthConfig struct {
	Secret      string        `env:"SECRET"`
	Password    string        `env:"PASSWORD"    envDefault:"dev"`
	TokenTTL    time.Duration `env:"TOKEN_TTL"   envDefault:"1h"`
	Permissions []string      `env:"PERMISSIONS" envDefault:"*"   envSeparator:";"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"http"`

	// BaseURL is the university API root every request is resolved against.
	BaseURL string `env:"AUTH_BASE_URL" envDefault:"http://localhost:8000"`

	// SuperAdminRole is the role code that bypasses path checks.
	SuperAdminRole string `env:"AUTH_SUPER_ADMIN_ROLE" envDefault:"super_admin"`

	PermissionTTL  time.Duration `env:"AUTH_PERMISSION_TTL"  envDefault:"15m"`
	RefreshTimeout time.Duration `env:"AUTH_REFRESH_TIMEOUT" envDefault:"15s"`
	RequestTimeout time.Duration `env:"AUTH_REQUEST_TIMEOUT" envDefault:"30s"`

	// LoginPath is the unauthenticated entry point users are sent to.
	LoginPath string `env:"AUTH_LOGIN_PATH" envDefault:"/login"`

	Endpoints EndpointConfig
	Errors    ErrorExtractionConfig

	// DevAuth configuration (used when Mode=dev).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize applies guardrails to authentication values.
func (c *AuthConfig) Sanitize() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.SuperAdminRole = strings.TrimSpace(c.SuperAdminRole)
	if c.Mode == "" {
		c.Mode = AuthModeHTTP
	}
	if c.PermissionTTL <= 0 {
		c.PermissionTTL = defaultPermissionTTL
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = defaultRefreshTimeout
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	c.LoginPath = leadingSlash(c.LoginPath, "/login")
	c.Endpoints.StaffPrefix = leadingSlash(c.Endpoints.StaffPrefix, "/api/staff")
	c.Endpoints.StudentPrefix = leadingSlash(c.Endpoints.StudentPrefix, "/api/student")
	c.Endpoints.PermissionsPath = leadingSlash(c.Endpoints.PermissionsPath, "/api/user/permissions")
	c.Errors.MessageExpr = strings.TrimSpace(c.Errors.MessageExpr)
	c.Errors.FieldsExpr = strings.TrimSpace(c.Errors.FieldsExpr)
	if c.DevAuth.TokenTTL <= 0 {
		c.DevAuth.TokenTTL = defaultDevTokenTTL
	}
}

func leadingSlash(p, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
