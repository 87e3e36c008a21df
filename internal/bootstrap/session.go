package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/FeruzLatifov/univer-front-sub000/config"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/clock"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/devauth"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/jwtcodec"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/provider"
	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	"github.com/FeruzLatifov/univer-front-sub000/internal/gateway"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/statsd"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
	"github.com/FeruzLatifov/univer-front-sub000/internal/service"
)

// devSecretFallback signs dev tokens when DEV=true and no secret is configured.
const devSecretFallback = "univer-dev-secret"

// SessionOptions groups dependencies for BuildSessionManager.
type SessionOptions struct {
	Config    *config.AppConfig
	Storage   ports.Storage
	Navigator ports.Navigator
	Metrics   statsd.Sink
	Logger    *slog.Logger
	// HTTPClient overrides the client built from Auth.RequestTimeout.
	HTTPClient *http.Client
}

// BuildSessionManager wires the session manager to the identity provider selected by Auth.Mode.
func BuildSessionManager(opts SessionOptions) (*service.SessionManager, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authCfg := opts.Config.Auth

	factory, err := providerFactory(opts.Config, logger)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		if httpClient, err = gateway.NewHTTPClient(authCfg.RequestTimeout); err != nil {
			return nil, err
		}
	}

	return service.NewSessionManager(service.SessionManagerOptions{
		Deps: service.SessionDeps{
			NewProvider: factory,
			Codec:       jwtcodec.New(),
			Storage:     opts.Storage,
			Navigator:   opts.Navigator,
			Clock:       clock.Real{},
			Metrics:     opts.Metrics,
		},
		Config: service.SessionConfig{
			BaseURL:        authCfg.BaseURL,
			HTTPClient:     httpClient,
			MessageExpr:    authCfg.Errors.MessageExpr,
			FieldsExpr:     authCfg.Errors.FieldsExpr,
			SuperAdminRole: authCfg.SuperAdminRole,
			PermissionTTL:  authCfg.PermissionTTL,
			RefreshTimeout: authCfg.RefreshTimeout,
		},
		Logger: logger,
	})
}

func providerFactory(cfg *config.AppConfig, logger *slog.Logger) (service.ProviderFactory, error) {
	authCfg := cfg.Auth
	switch authCfg.Mode {
	case config.AuthModeHTTP, "":
		paths := provider.Paths{
			StaffPrefix:   authCfg.Endpoints.StaffPrefix,
			StudentPrefix: authCfg.Endpoints.StudentPrefix,
			Permissions:   authCfg.Endpoints.PermissionsPath,
		}
		return func(gw gateway.Doer) ports.IdentityProvider {
			return provider.New(provider.Options{Gateway: gw, Paths: paths, Logger: logger})
		}, nil

	case config.AuthModeDev:
		secret := authCfg.DevAuth.Secret
		if secret == "" && cfg.IsDev {
			secret = devSecretFallback
		}
		if secret == "" {
			return nil, errors.New("dev auth mode requires DEV_AUTH_SECRET outside development")
		}
		dev, err := devauth.NewProvider(devauth.Config{
			Secret:      []byte(secret),
			Password:    authCfg.DevAuth.Password,
			TokenTTL:    authCfg.DevAuth.TokenTTL,
			Permissions: authCfg.DevAuth.Permissions,
			Roles:       devRoles(authCfg.SuperAdminRole),
		})
		if err != nil {
			return nil, fmt.Errorf("dev auth: %w", err)
		}
		logger.Warn("using the dev identity provider; tokens are issued locally")
		return func(gateway.Doer) ports.IdentityProvider { return dev }, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", authCfg.Mode)
	}
}

// devRoles offers a regular staff role and the super-admin role for switching.
func devRoles(superAdmin string) []domainauth.RoleRef {
	if superAdmin == "" {
		superAdmin = domainauth.DefaultSuperAdminRole
	}
	return []domainauth.RoleRef{
		{ID: 1, Code: "admin", Name: "Administrator"},
		{ID: 2, Code: superAdmin, Name: "Super administrator"},
	}
}
