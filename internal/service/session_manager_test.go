package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/jwtcodec"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/storage"
	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/gateway"
	"github.com/FeruzLatifov/univer-front-sub000/internal/mocks"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
	"github.com/FeruzLatifov/univer-front-sub000/internal/service"
	"github.com/FeruzLatifov/univer-front-sub000/internal/testutil"
)

func TestNewSessionManager_RequiredDeps(t *testing.T) {
	valid := func() service.SessionManagerOptions {
		return service.SessionManagerOptions{
			Deps: service.SessionDeps{
				NewProvider: func(gateway.Doer) ports.IdentityProvider { return nil },
				Codec:       jwtcodec.New(),
				Storage:     storage.NewMemory(),
			},
			Config: service.SessionConfig{BaseURL: "http://univer.test"},
		}
	}

	t.Run("missing provider factory", func(t *testing.T) {
		o := valid()
		o.Deps.NewProvider = nil
		assert.Panics(t, func() { _, _ = service.NewSessionManager(o) })
	})
	t.Run("missing codec", func(t *testing.T) {
		o := valid()
		o.Deps.Codec = nil
		assert.Panics(t, func() { _, _ = service.NewSessionManager(o) })
	})
	t.Run("missing storage", func(t *testing.T) {
		o := valid()
		o.Deps.Storage = nil
		assert.Panics(t, func() { _, _ = service.NewSessionManager(o) })
	})
	t.Run("factory returning nil", func(t *testing.T) {
		assert.Panics(t, func() { _, _ = service.NewSessionManager(valid()) })
	})
	t.Run("invalid base url", func(t *testing.T) {
		o := valid()
		o.Config.BaseURL = "not a url"
		_, err := service.NewSessionManager(o)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestLogin_Staff(t *testing.T) {
	h := newHarness(t)
	token := h.staffLogin(t, "students", "employees")

	snap := h.manager.Snapshot()
	assert.Equal(t, token, snap.Token)
	assert.True(t, snap.IsAuthenticated)

	claims, err := jwtcodec.New().Decode(snap.Token)
	require.NoError(t, err)
	assert.Greater(t, claims.Exp*1000, h.clock.Now().UnixMilli())

	id, ok := h.manager.Identity()
	require.True(t, ok)
	assert.Equal(t, int64(42), id.ID)
	assert.Equal(t, "Dean Office", id.DisplayName)
	assert.Equal(t, domainauth.PrincipalStaff, id.PrincipalKind)
	assert.Equal(t, "dean", id.Role)
	assert.Equal(t, "Dean", id.RoleName)
	assert.Equal(t, []string{"students", "employees"}, id.Permissions)
	assert.Equal(t, domainauth.PrincipalStaff, h.manager.PrincipalKind())
	assert.True(t, h.manager.HasRole("dean"))
	assert.False(t, h.manager.IsSuperAdmin())
	assert.Len(t, h.manager.AvailableRoles(), 2)
	assert.True(t, h.manager.IsCacheFresh())

	assert.Equal(t, token, h.stored(t, ports.KeyAccessToken))
	assert.Equal(t, "refresh-1", h.stored(t, ports.KeyRefreshToken))
	assert.Equal(t, "staff", h.stored(t, ports.KeyUserType))
	assert.JSONEq(t, `{"token":"`+token+`","isAuthenticated":true}`, h.stored(t, ports.KeyAuthRecord))
	assert.Equal(t, 1, h.sink.count("login:success"))
}

func TestLogin_Student(t *testing.T) {
	h := newHarness(t)
	token := testutil.NewToken(h.clock.Now()).WithPermissions("student").Build(t)
	h.fake.LoginResult = ports.LoginResult{
		Grant: ports.TokenGrant{AccessToken: token, RefreshToken: "r"},
		User: ports.UserDocument{
			ID:              7,
			StudentIDNumber: "3902011",
			Permissions:     []string{"student"},
			Extra:           map[string]any{"group": "101-21"},
		},
	}
	h.fake.LoginFunc = func(_ context.Context, creds domainauth.Credentials) (ports.LoginResult, error) {
		sc, ok := creds.(domainauth.StudentCredentials)
		require.True(t, ok)
		assert.Equal(t, "3902011", sc.StudentID)
		return h.fake.LoginResult, nil
	}

	_, err := h.manager.Login(t.Context(), domainauth.StudentCredentials{StudentID: "3902011", Password: "pw"})
	require.NoError(t, err)

	id, ok := h.manager.Identity()
	require.True(t, ok)
	assert.Equal(t, domainauth.StudentRole, id.Role)
	assert.Equal(t, "Student", id.RoleName)
	assert.Equal(t, "3902011", id.DisplayName)
	assert.Equal(t, "3902011", id.Meta["studentIdNumber"])
	assert.Equal(t, "101-21", id.Meta["group"])
	assert.Empty(t, id.Roles)
	assert.Nil(t, id.RoleID)
	assert.Equal(t, "student", h.stored(t, ports.KeyUserType))
}

func TestLogin_ValidationMakesNoCall(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: " ", Password: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, int32(0), h.fake.LoginCalls.Load())

	require.Error(t, h.manager.LastError())
	h.manager.ClearError()
	assert.NoError(t, h.manager.LastError())
	assert.False(t, h.manager.IsAuthenticated())

	_, err = h.manager.Login(t.Context(), nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestLogin_FailureKeepsExistingSession(t *testing.T) {
	h := newHarness(t)
	token := h.staffLogin(t, "students")

	h.fake.LoginFunc = func(context.Context, domainauth.Credentials) (ports.LoginResult, error) {
		return ports.LoginResult{}, apperrors.AuthenticationFailed("Login yoki parol noto'g'ri", nil)
	}
	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: "dekan", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthenticationFailed(err))
	assert.Equal(t, "Login yoki parol noto'g'ri", apperrors.UserMessage(err, ""))

	assert.Equal(t, token, h.manager.AccessToken())
	assert.True(t, h.manager.IsAuthenticated())
	assert.Equal(t, token, h.stored(t, ports.KeyAccessToken))
	assert.Equal(t, err, h.manager.LastError())
	assert.Equal(t, 1, h.sink.count("login:error"))
}

func TestLogin_ProviderErrorBecomesAuthenticationFailed(t *testing.T) {
	h := newHarness(t)
	h.fake.LoginFunc = func(context.Context, domainauth.Credentials) (ports.LoginResult, error) {
		return ports.LoginResult{}, apperrors.New(apperrors.ErrCodeNetwork, "connection refused")
	}

	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: "dekan", Password: "secret"})
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthenticationFailed(err))
	assert.False(t, h.manager.IsAuthenticated())
}

func TestLogin_RejectsExpiredToken(t *testing.T) {
	h := newHarness(t)
	expired := testutil.NewToken(h.clock.Now()).WithPermissions("students").ExpiresIn(-time.Minute).Build(t)
	h.fake.LoginResult = ports.LoginResult{
		Grant: ports.TokenGrant{AccessToken: expired},
		User:  staffDocument("students"),
	}

	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: "dekan", Password: "secret"})
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthenticationFailed(err))
	assert.False(t, h.manager.IsAuthenticated())
	assert.Zero(t, h.store.Len())
}

func TestLogin_AcceptsOpaqueToken(t *testing.T) {
	h := newHarness(t)
	h.loginStaff(t, "opaque-token", staffDocument("students"))

	assert.True(t, h.manager.IsAuthenticated())
	// No claim to compare against: the cached list is used.
	assert.True(t, h.manager.IsSessionIntegrityValid(t.Context()))
	assert.True(t, h.manager.CanAccessPath(t.Context(), "students/list"))
}

func TestLogout_Idempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockIdentityProvider(ctrl)
	h := newHarness(t, withProvider(provider))

	token := testutil.NewToken(h.clock.Now()).WithPermissions("students").Build(t)
	provider.EXPECT().
		Login(gomock.Any(), domainauth.StaffCredentials{Login: "dekan", Password: "secret"}).
		Return(ports.LoginResult{Grant: ports.TokenGrant{AccessToken: token, RefreshToken: "r"}, User: staffDocument("students")}, nil)
	provider.EXPECT().Logout(gomock.Any(), domainauth.PrincipalStaff).Return(nil).Times(1)

	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: "dekan", Password: "secret"})
	require.NoError(t, err)

	h.manager.Logout(t.Context())
	first := h.manager.Snapshot()
	h.manager.Logout(t.Context())

	assert.Equal(t, first, h.manager.Snapshot())
	assert.Equal(t, domainauth.Session{}, h.manager.Snapshot())
	_, ok := h.manager.Identity()
	assert.False(t, ok)
	assert.Zero(t, h.store.Len())
	assert.Equal(t, 1, h.sink.count("logout:success"))
	assert.Zero(t, h.nav.Count())
}

func TestLogout_ProviderFailureStillClears(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	h.fake.LogoutFunc = func(context.Context, domainauth.PrincipalKind) error {
		return apperrors.New(apperrors.ErrCodeNetwork, "gateway timeout")
	}

	h.manager.Logout(t.Context())

	assert.False(t, h.manager.IsAuthenticated())
	assert.Zero(t, h.store.Len())
	assert.Contains(t, h.logs.String(), "provider logout failed")
}

func TestIntegrity_TamperedPermissionsEndSession(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	service.TamperPermissions(h.manager, []string{"students", "*"})

	assert.False(t, h.manager.IsSessionIntegrityValid(t.Context()))
	assert.False(t, h.manager.IsAuthenticated())
	assert.Equal(t, []string{service.ReasonIntegrityViolation}, h.nav.Reasons())
	assert.True(t, apperrors.IsIntegrityViolation(h.manager.LastError()))
	assert.Zero(t, h.store.Len())
	assert.Equal(t, 1, h.sink.count("integrity_violation:error"))
	assert.Contains(t, h.logs.String(), "permission integrity violation")
}

func TestIntegrity_TamperedPermissionsDenyPath(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	service.TamperPermissions(h.manager, []string{"*"})

	assert.False(t, h.manager.CanAccessPath(t.Context(), "decrees"))
	assert.False(t, h.manager.CanAccessPath(t.Context(), "students"))
	assert.Equal(t, []string{service.ReasonIntegrityViolation}, h.nav.Reasons())
}

func TestIntegrity_OrderDoesNotMatter(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "a", "b")

	service.TamperPermissions(h.manager, []string{"b", "a"})

	assert.True(t, h.manager.IsSessionIntegrityValid(t.Context()))
	assert.True(t, h.manager.IsAuthenticated())
}

func TestIntegrity_NoIdentityIsValid(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.manager.IsSessionIntegrityValid(t.Context()))
	assert.Zero(t, h.nav.Count())
}

func TestIntegrity_OldTokenWithoutClaim(t *testing.T) {
	h := newHarness(t)
	token := testutil.NewToken(h.clock.Now()).WithoutPermissions().Build(t)
	h.loginStaff(t, token, staffDocument("students"))

	service.TamperPermissions(h.manager, []string{"anything"})

	assert.True(t, h.manager.IsSessionIntegrityValid(t.Context()))
	perms, ok := h.manager.AuthoritativePermissions(t.Context())
	assert.False(t, ok)
	assert.Nil(t, perms)
}

func TestPermissionCache_TTLBoundary(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	now := h.clock.Now()

	assert.True(t, h.manager.IsCacheFresh())

	service.SetCachedAt(h.manager, now.Add(-domainauth.PermissionTTL-time.Millisecond))
	assert.False(t, h.manager.IsCacheFresh())

	service.SetCachedAt(h.manager, now.Add(-14*time.Minute))
	assert.True(t, h.manager.IsCacheFresh())

	service.ClearCachedAt(h.manager)
	assert.False(t, h.manager.IsCacheFresh())
}

func TestCanAccessPath(t *testing.T) {
	tests := []struct {
		name  string
		perms []string
		path  string
		want  bool
	}{
		{"exact", []string{"employees"}, "employees", true},
		{"segment prefix", []string{"employees"}, "employees/workload", true},
		{"leading and trailing separators", []string{"employees"}, "/employees/", true},
		{"non segment prefix", []string{"employees"}, "employeesx", false},
		{"child does not grant parent", []string{"employees/workload"}, "employees", false},
		{"wildcard", []string{"*"}, "decrees/2025/approve", true},
		{"empty list", nil, "students", false},
		{"unrelated", []string{"students"}, "grades", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.staffLogin(t, tt.perms...)
			assert.Equal(t, tt.want, h.manager.CanAccessPath(t.Context(), tt.path))
			assert.Zero(t, h.nav.Count())
		})
	}
}

func TestCanAccessPath_SuperAdmin(t *testing.T) {
	h := newHarness(t)
	doc := staffDocument("students")
	doc.Role = "super_admin"
	h.loginStaff(t, testutil.NewToken(h.clock.Now()).WithPermissions("students").Build(t), doc)

	assert.True(t, h.manager.IsSuperAdmin())
	assert.True(t, h.manager.CanAccessPath(t.Context(), "system/settings"))
}

func TestCanAccessPath_FallsBackToCachedListWithoutClaim(t *testing.T) {
	h := newHarness(t)
	token := testutil.NewToken(h.clock.Now()).WithoutPermissions().Build(t)
	h.loginStaff(t, token, staffDocument("students"))

	assert.True(t, h.manager.CanAccessPath(t.Context(), "students/list"))
	assert.False(t, h.manager.CanAccessPath(t.Context(), "grades"))
}

func TestCanAccessPath_UnauthenticatedDenies(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.manager.CanAccessPath(t.Context(), "students"))
	assert.Zero(t, h.nav.Count())
}

func TestCanAccessPath_ExpiredTokenEndsSession(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	h.clock.Advance(2 * time.Hour)

	assert.False(t, h.manager.CanAccessPath(t.Context(), "students"))
	assert.False(t, h.manager.IsAuthenticated())
	assert.Equal(t, []string{service.ReasonTokenExpired}, h.nav.Reasons())
	assert.True(t, apperrors.IsTokenExpired(h.manager.LastError()))
	assert.Equal(t, 1, h.sink.count("token_expired:error"))
}

func TestAuthoritativePermissions(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students", "grades")

	perms, ok := h.manager.AuthoritativePermissions(t.Context())
	require.True(t, ok)
	assert.Equal(t, []string{"students", "grades"}, perms)
}

func TestRefreshPermissionsInBackground(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	h.fake.PermissionList = []string{"students"}

	// Fresh cache: nothing to do.
	h.manager.RefreshPermissionsInBackground(t.Context())
	h.manager.Wait()
	assert.Equal(t, int32(0), h.fake.PermissionsCalls.Load())

	h.clock.Advance(16 * time.Minute)
	require.False(t, h.manager.IsCacheFresh())

	h.manager.RefreshPermissionsInBackground(t.Context())
	h.manager.Wait()

	assert.Equal(t, int32(1), h.fake.PermissionsCalls.Load())
	assert.True(t, h.manager.IsCacheFresh())
	assert.True(t, h.manager.IsAuthenticated())
	assert.Equal(t, 1, h.sink.count("permissions_refresh:success"))
}

func TestRefreshPermissionsInBackground_FailureKeepsStaleList(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	h.fake.PermissionsFunc = func(context.Context) ([]string, error) {
		return nil, apperrors.New(apperrors.ErrCodeNetwork, "service unavailable")
	}
	h.clock.Advance(16 * time.Minute)

	// The decision is made with the stale list.
	assert.True(t, h.manager.CanAccessPath(t.Context(), "students"))
	h.manager.Wait()

	id, ok := h.manager.Identity()
	require.True(t, ok)
	assert.Equal(t, []string{"students"}, id.Permissions)
	assert.False(t, h.manager.IsCacheFresh())
	assert.True(t, h.manager.IsAuthenticated())
	assert.Zero(t, h.nav.Count())
	assert.Contains(t, h.logs.String(), "keeping cached list")
	assert.Equal(t, 1, h.sink.count("permissions_refresh:error"))
}

func TestRefreshPermissionsInBackground_DiscardedAfterLogout(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	started := make(chan struct{})
	release := make(chan struct{})
	h.fake.PermissionsFunc = func(context.Context) ([]string, error) {
		close(started)
		<-release
		return []string{"*"}, nil
	}
	h.clock.Advance(16 * time.Minute)

	h.manager.RefreshPermissionsInBackground(t.Context())
	<-started
	h.manager.Logout(t.Context())
	close(release)
	h.manager.Wait()

	_, ok := h.manager.Identity()
	assert.False(t, ok)
	assert.False(t, h.manager.IsAuthenticated())
	assert.Zero(t, h.store.Len())
}

func TestRefresh_ReplacesToken(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	next := testutil.NewToken(h.clock.Now()).WithPermissions("students").WithClaim("jti", "second").Build(t)
	h.fake.RefreshFunc = func(_ context.Context, kind domainauth.PrincipalKind, refreshToken string) (ports.TokenGrant, error) {
		assert.Equal(t, domainauth.PrincipalStaff, kind)
		assert.Equal(t, "refresh-1", refreshToken)
		return ports.TokenGrant{AccessToken: next, RefreshToken: "refresh-2"}, nil
	}

	snap, err := h.manager.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, next, snap.Token)
	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, next, h.stored(t, ports.KeyAccessToken))
	assert.Equal(t, "refresh-2", h.stored(t, ports.KeyRefreshToken))
	assert.Equal(t, 1, h.sink.count("refresh:success"))
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	next := testutil.NewToken(h.clock.Now()).WithPermissions("students").WithClaim("jti", "second").Build(t)
	h.fake.RefreshGrant = ports.TokenGrant{AccessToken: next}

	_, err := h.manager.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", h.stored(t, ports.KeyRefreshToken))
}

func TestRefresh_FailureTearsDown(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	h.fake.RefreshFunc = func(context.Context, domainauth.PrincipalKind, string) (ports.TokenGrant, error) {
		return ports.TokenGrant{}, apperrors.New(apperrors.ErrCodeNetwork, "refresh token revoked")
	}

	_, err := h.manager.Refresh(t.Context())
	require.Error(t, err)
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.False(t, h.manager.IsAuthenticated())
	assert.Zero(t, h.store.Len())
	assert.Equal(t, []string{service.ReasonRefreshFailed}, h.nav.Reasons())
	assert.Equal(t, 1, h.sink.count("refresh:error"))
}

func TestRefresh_NoRefreshCredential(t *testing.T) {
	h := newHarness(t)
	token := testutil.NewToken(h.clock.Now()).WithPermissions("students").Build(t)
	h.fake.LoginResult = ports.LoginResult{
		Grant: ports.TokenGrant{AccessToken: token},
		User:  staffDocument("students"),
	}
	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: "dekan", Password: "secret"})
	require.NoError(t, err)
	assert.Empty(t, h.stored(t, ports.KeyRefreshToken))

	_, err = h.manager.Refresh(t.Context())
	require.Error(t, err)
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.ErrorIs(t, err, gateway.ErrNoRefreshCredential)
	assert.Equal(t, int32(0), h.fake.RefreshCalls.Load())
	assert.False(t, h.manager.IsAuthenticated())
	assert.Equal(t, []string{service.ReasonNoRefreshCredential}, h.nav.Reasons())
}

func TestRefresh_TimeoutCountsAsFailure(t *testing.T) {
	h := newHarness(t, withRefreshTimeout(50*time.Millisecond))
	h.staffLogin(t, "students")
	h.fake.RefreshFunc = func(ctx context.Context, _ domainauth.PrincipalKind, _ string) (ports.TokenGrant, error) {
		<-ctx.Done()
		return ports.TokenGrant{}, ctx.Err()
	}

	_, err := h.manager.Refresh(t.Context())
	require.Error(t, err)
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, h.manager.IsAuthenticated())
	assert.Equal(t, []string{service.ReasonRefreshFailed}, h.nav.Reasons())
}

func TestRefresh_FailureSkipsProviderLogout(t *testing.T) {
	const timeout = 100 * time.Millisecond
	h := newHarness(t, withRefreshTimeout(timeout))
	h.staffLogin(t, "students")
	h.fake.RefreshFunc = func(ctx context.Context, _ domainauth.PrincipalKind, _ string) (ports.TokenGrant, error) {
		<-ctx.Done()
		return ports.TokenGrant{}, ctx.Err()
	}
	h.fake.LogoutFunc = func(ctx context.Context, _ domainauth.PrincipalKind) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	_, err := h.manager.Refresh(t.Context())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperrors.IsRefreshFailed(err))
	assert.Less(t, elapsed, 2*timeout)
	assert.Zero(t, h.fake.LogoutCalls.Load())
	assert.False(t, h.manager.IsAuthenticated())
	assert.Zero(t, h.store.Len())
	assert.Equal(t, []string{service.ReasonRefreshFailed}, h.nav.Reasons())
}

func TestRenewAccessToken_SingleFlight(t *testing.T) {
	h := newHarness(t)
	rejected := h.staffLogin(t, "students")
	next := testutil.NewToken(h.clock.Now()).WithPermissions("students").WithClaim("jti", "second").Build(t)

	release := make(chan struct{})
	h.fake.RefreshFunc = func(context.Context, domainauth.PrincipalKind, string) (ports.TokenGrant, error) {
		<-release
		return ports.TokenGrant{AccessToken: next, RefreshToken: "refresh-2"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.manager.RenewAccessToken(context.Background(), rejected)
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), h.fake.RefreshCalls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, next, results[i])
	}
	assert.Equal(t, next, h.manager.AccessToken())
}

func TestRenewAccessToken_AfterLogoutFails(t *testing.T) {
	h := newHarness(t)
	rejected := h.staffLogin(t, "students")
	h.manager.Logout(t.Context())

	_, err := h.manager.RenewAccessToken(t.Context(), rejected)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrNoRefreshCredential)
	assert.Equal(t, int32(0), h.fake.RefreshCalls.Load())
	assert.Zero(t, h.nav.Count())
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	token := h.staffLogin(t, "students")

	restored := newHarness(t, withStorage(h.store))
	ok, err := restored.manager.Restore(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, token, restored.manager.AccessToken())
	assert.True(t, restored.manager.IsAuthenticated())
	assert.Equal(t, domainauth.PrincipalStaff, restored.manager.PrincipalKind())
	id, ok := restored.manager.Identity()
	require.True(t, ok)
	assert.Equal(t, []string{"students"}, id.Permissions)
	assert.True(t, restored.manager.IsCacheFresh())
	assert.True(t, restored.manager.CanAccessPath(t.Context(), "students"))
}

func TestRestore_Empty(t *testing.T) {
	h := newHarness(t)
	ok, err := h.manager.Restore(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore_Expired(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	restored := newHarness(t, withStorage(h.store))
	restored.clock.Advance(2 * time.Hour)

	ok, err := restored.manager.Restore(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, restored.manager.IsAuthenticated())
	assert.Zero(t, h.store.Len())
}

func TestRestore_InconsistentRecords(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")
	require.NoError(t, h.store.Set(t.Context(), ports.KeyAuthRecord, []byte(`{"token":"other","isAuthenticated":true}`)))

	restored := newHarness(t, withStorage(h.store))
	ok, err := restored.manager.Restore(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, h.store.Len())
}

func TestRestore_EditedPermissionsAreCaught(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	raw := h.stored(t, ports.KeyUserRecord)
	edited := []byte(replaceOnce(t, raw, `"permissions":["students"]`, `"permissions":["students","*"]`))
	require.NoError(t, h.store.Set(t.Context(), ports.KeyUserRecord, edited))

	restored := newHarness(t, withStorage(h.store))
	ok, err := restored.manager.Restore(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, restored.manager.CanAccessPath(t.Context(), "decrees"))
	assert.Equal(t, []string{service.ReasonIntegrityViolation}, restored.nav.Reasons())
}

func TestSwitchRole(t *testing.T) {
	h := newHarness(t)
	before := h.staffLogin(t, "students")

	next := testutil.NewToken(h.clock.Now()).WithPermissions("*").WithClaim("role", "super_admin").Build(t)
	h.fake.SwitchRoleFunc = func(_ context.Context, roleID int64) (ports.LoginResult, error) {
		assert.Equal(t, int64(1), roleID)
		return ports.LoginResult{
			Grant: ports.TokenGrant{AccessToken: next},
			User: ports.UserDocument{
				ID: 42, Login: "dekan", FullName: "Dean Office",
				Role: "super_admin", RoleID: testutil.Int64Ptr(1), Permissions: []string{"*"},
			},
		}, nil
	}

	snap, err := h.manager.SwitchRole(t.Context(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, before, snap.Token)
	assert.Equal(t, next, h.manager.AccessToken())
	assert.True(t, h.manager.IsSuperAdmin())
	assert.Equal(t, "Administrator", mustIdentity(t, h).RoleName)
	assert.Len(t, h.manager.AvailableRoles(), 2)
	assert.True(t, h.manager.IsSessionIntegrityValid(t.Context()))
	assert.Equal(t, "refresh-1", h.stored(t, ports.KeyRefreshToken))
	assert.Equal(t, 1, h.sink.count("role_switch:success"))
}

func TestSwitchRole_StudentRejected(t *testing.T) {
	h := newHarness(t)
	token := testutil.NewToken(h.clock.Now()).WithPermissions("student").Build(t)
	h.fake.LoginResult = ports.LoginResult{
		Grant: ports.TokenGrant{AccessToken: token},
		User:  ports.UserDocument{ID: 7, StudentIDNumber: "3902011", Permissions: []string{"student"}},
	}
	_, err := h.manager.Login(t.Context(), domainauth.StudentCredentials{StudentID: "3902011", Password: "pw"})
	require.NoError(t, err)

	_, err = h.manager.SwitchRole(t.Context(), 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "role_id", apperrors.GetField(err))
	assert.Equal(t, int32(0), h.fake.SwitchRoleCalls.Load())
	assert.Equal(t, token, h.manager.AccessToken())
}

func TestSwitchRole_ProviderRejects(t *testing.T) {
	h := newHarness(t)
	token := h.staffLogin(t, "students")

	_, err := h.manager.SwitchRole(t.Context(), 99)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetCode(err))
	assert.Equal(t, token, h.manager.AccessToken())
	assert.True(t, h.manager.HasRole("dean"))
}

func TestFetchProfile(t *testing.T) {
	h := newHarness(t)
	h.staffLogin(t, "students")

	doc := staffDocument()
	doc.FullName = "Dean of Mathematics"
	doc.Permissions = nil
	h.fake.User = doc

	id, err := h.manager.FetchProfile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Dean of Mathematics", id.DisplayName)
	assert.Equal(t, []string{"students"}, id.Permissions)
	assert.True(t, h.manager.IsSessionIntegrityValid(t.Context()))
	assert.Equal(t, int32(1), h.fake.MeCalls.Load())
}

func TestFetchProfile_NotSignedIn(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.FetchProfile(t.Context())
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthenticationFailed(err))
	assert.Equal(t, int32(0), h.fake.MeCalls.Load())
}

func TestToken_TokenSource(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Token()
	require.Error(t, err)

	token := h.staffLogin(t, "students")
	tok, err := h.manager.Token()
	require.NoError(t, err)
	assert.Equal(t, token, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(testutil.TestTime().Add(time.Hour)))
}

func mustIdentity(t *testing.T, h *harness) domainauth.Identity {
	t.Helper()
	id, ok := h.manager.Identity()
	require.True(t, ok)
	return id
}

func replaceOnce(t *testing.T, s, old, repl string) string {
	t.Helper()
	require.Contains(t, s, old)
	return strings.Replace(s, old, repl, 1)
}
