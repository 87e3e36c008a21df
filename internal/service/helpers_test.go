package service_test

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/clock"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/jwtcodec"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/storage"
	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	"github.com/FeruzLatifov/univer-front-sub000/internal/gateway"
	authmocks "github.com/FeruzLatifov/univer-front-sub000/internal/mocks/auth"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
	"github.com/FeruzLatifov/univer-front-sub000/internal/service"
	"github.com/FeruzLatifov/univer-front-sub000/internal/testutil"
)

type recordingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *recordingSink) Count(_ string, _ int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[tags["event"]+":"+tags["result"]]++
}

func (s *recordingSink) Gauge(string, float64, map[string]string)        {}
func (s *recordingSink) Timing(string, time.Duration, map[string]string) {}

func (s *recordingSink) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// syncBuffer lets background goroutines log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	manager *service.SessionManager
	fake    *authmocks.FakeProvider
	nav     *authmocks.RecordingNavigator
	store   *storage.Memory
	clock   *clock.Fixed
	sink    *recordingSink
	logs    *syncBuffer
}

type harnessOption func(*service.SessionManagerOptions)

func withProvider(p ports.IdentityProvider) harnessOption {
	return func(o *service.SessionManagerOptions) {
		o.Deps.NewProvider = func(gateway.Doer) ports.IdentityProvider { return p }
	}
}

func withStorage(s ports.Storage) harnessOption {
	return func(o *service.SessionManagerOptions) { o.Deps.Storage = s }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		fake:  &authmocks.FakeProvider{},
		nav:   &authmocks.RecordingNavigator{},
		store: storage.NewMemory(),
		clock: clock.NewFixed(testutil.TestTime()),
		sink:  &recordingSink{},
		logs:  &syncBuffer{},
	}

	o := service.SessionManagerOptions{
		Deps: service.SessionDeps{
			NewProvider: func(gateway.Doer) ports.IdentityProvider { return h.fake },
			Codec:       jwtcodec.New(),
			Storage:     h.store,
			Navigator:   h.nav,
			Clock:       h.clock,
			Metrics:     h.sink,
		},
		Config: service.SessionConfig{
			BaseURL:        "http://univer.test",
			RefreshTimeout: 2 * time.Second,
		},
		Logger: slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if mem, ok := o.Deps.Storage.(*storage.Memory); ok {
		h.store = mem
	}

	m, err := service.NewSessionManager(o)
	require.NoError(t, err)
	t.Cleanup(m.Wait)
	h.manager = m
	return h
}

func withRefreshTimeout(d time.Duration) harnessOption {
	return func(o *service.SessionManagerOptions) { o.Config.RefreshTimeout = d }
}

func staffDocument(perms ...string) ports.UserDocument {
	return ports.UserDocument{
		ID:       42,
		Login:    "dekan",
		FullName: "Dean Office",
		Role:     "dean",
		RoleID:   testutil.Int64Ptr(3),
		Roles: []domainauth.RoleRef{
			{ID: 3, Code: "dean", Name: "Dean"},
			{ID: 1, Code: "super_admin", Name: "Administrator"},
		},
		Permissions: perms,
	}
}

// loginStaff signs in a staff principal with the given token and profile.
func (h *harness) loginStaff(t *testing.T, token string, doc ports.UserDocument) {
	t.Helper()
	h.fake.LoginResult = ports.LoginResult{
		Grant: ports.TokenGrant{AccessToken: token, RefreshToken: "refresh-1", TokenType: "bearer", ExpiresIn: 3600},
		User:  doc,
	}
	_, err := h.manager.Login(t.Context(), domainauth.StaffCredentials{Login: "dekan", Password: "secret"})
	require.NoError(t, err)
}

// staffLogin signs in with a token whose permission claim matches the profile.
func (h *harness) staffLogin(t *testing.T, perms ...string) string {
	t.Helper()
	token := testutil.NewToken(h.clock.Now()).WithPermissions(perms...).Build(t)
	h.loginStaff(t, token, staffDocument(perms...))
	return token
}

func (h *harness) stored(t *testing.T, key string) string {
	t.Helper()
	v, ok, err := h.store.Get(t.Context(), key)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return string(v)
}
