package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

type fakeHooks struct {
	mu       sync.Mutex
	token    string
	renewed  string
	renewErr error
	renews   int
}

func (h *fakeHooks) AccessToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *fakeHooks) RenewAccessToken(context.Context, string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.renews++
	if h.renewErr != nil {
		return "", h.renewErr
	}
	h.token = h.renewed
	return h.renewed, nil
}

func (h *fakeHooks) renewCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.renews
}

func newTestClient(t *testing.T, srv *httptest.Server, hooks SessionHooks) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: srv.URL + "/api/staff", HTTPClient: srv.Client(), Hooks: hooks})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = New(Options{BaseURL: "https://api.example.edu", MessageExpr: "message ||"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewHTTPClient_SendsCookiesBack(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "t1", Path: "/"})
		} else if c, err := r.Cookie("XSRF-TOKEN"); err == nil {
			seen.Store(c.Value)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	hc, err := NewHTTPClient(0)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, hc.Timeout)
	require.NotNil(t, hc.Jar)

	c, err := New(Options{BaseURL: srv.URL, HTTPClient: hc})
	require.NoError(t, err)
	_, err = c.Do(t.Context(), &Request{Method: http.MethodPost, Path: "/login", Anonymous: true})
	require.NoError(t, err)
	_, err = c.Get(t.Context(), "/api/students", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", seen.Load())

	hc, err = NewHTTPClient(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, hc.Timeout)
}

func TestDo_UnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/staff/auth/me", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "ok",
			"data":    map[string]any{"id": 7, "login": "admin"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeHooks{token: "tok-1"})
	resp, err := c.Get(context.Background(), "/auth/me", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Message)

	type me struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	}
	got, err := Decode[me](resp)
	require.NoError(t, err)
	assert.Equal(t, me{ID: 7, Login: "admin"}, got)
}

func TestDo_BareBodyIsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"permissions": []string{"students"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	resp, err := c.Get(context.Background(), "user/permissions", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Message)

	var body struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, []string{"students"}, body.Permissions)
}

func TestDo_AnonymousAndBearerOverride(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeHooks{token: "session"})
	ctx := context.Background()
	_, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: "auth/login", Anonymous: true, Body: map[string]string{"login": "a"}})
	require.NoError(t, err)
	_, err = c.Do(ctx, &Request{Method: http.MethodPost, Path: "auth/refresh", Bearer: "refresh-cred"})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer refresh-cred"}, seen)
}

func TestDo_ExtractsErrorFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors": map[string]any{
				"password": []string{"too short", "needs a digit"},
				"login":    "required",
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.Post(context.Background(), "auth/login", map[string]string{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
	assert.Equal(t, "Validation failed", apperrors.UserMessage(err, ""))
	assert.Equal(t, "login", apperrors.GetField(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, []string{"too short", "needs a digit"}, apiErr.Errors["password"])
	assert.Equal(t, []string{"required"}, apiErr.Errors["login"])
}

func TestDo_NestedErrorMessageAndForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"message": "no access"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.Get(context.Background(), "decrees", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsForbidden(err))
	assert.Equal(t, "no access", apperrors.UserMessage(err, ""))
}

func TestDo_CustomMessageExpression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": []any{map[string]any{"msg": "bad semester"}}})
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, HTTPClient: srv.Client(), MessageExpr: "detail[0].msg"})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "grades", nil)
	assert.Equal(t, "bad semester", apperrors.UserMessage(err, ""))
}

func TestDo_RetriesOnceAfterRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []string{"a", "b"}})
	}))
	defer srv.Close()

	hooks := &fakeHooks{token: "stale", renewed: "fresh"}
	c := newTestClient(t, srv, hooks)

	resp, err := c.Get(context.Background(), "students", nil)
	require.NoError(t, err, "caller must not observe the intermediate 401")
	got, err := Decode[[]string](resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, hooks.renewCount())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_RetryIsNotRepeated(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
	}))
	defer srv.Close()

	hooks := &fakeHooks{token: "stale", renewed: "still-bad"}
	c := newTestClient(t, srv, hooks)

	_, err := c.Get(context.Background(), "students", nil)
	require.Error(t, err)
	assert.Equal(t, 1, hooks.renewCount())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_NoRefreshCredentialPropagatesOriginal401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
	}))
	defer srv.Close()

	hooks := &fakeHooks{token: "stale", renewErr: ErrNoRefreshCredential}
	c := newTestClient(t, srv, hooks)

	_, err := c.Get(context.Background(), "students", nil)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Token expired", apiErr.Message)
}

func TestDo_RefreshFailurePropagatesRefreshError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
	}))
	defer srv.Close()

	refreshErr := apperrors.RefreshFailed(errors.New("refresh rejected"))
	c := newTestClient(t, srv, &fakeHooks{token: "stale", renewErr: refreshErr})

	_, err := c.Get(context.Background(), "students", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRefreshFailed(err))
}

func TestDo_NoRefreshFlagSkipsRenewal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
	}))
	defer srv.Close()

	hooks := &fakeHooks{token: "stale", renewed: "fresh"}
	c := newTestClient(t, srv, hooks)
	ctx := context.Background()

	_, err := c.Do(ctx, &Request{Path: "auth/logout", Method: http.MethodPost, NoRefresh: true})
	require.Error(t, err)
	_, err = c.Do(ctx, &Request{Path: "auth/login", Method: http.MethodPost, Anonymous: true})
	require.Error(t, err)
	_, err = c.Do(ctx, &Request{Path: "auth/refresh", Method: http.MethodPost, Bearer: "refresh"})
	require.Error(t, err)
	assert.Zero(t, hooks.renewCount())
}

func TestDo_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c := newTestClient(t, srv, nil)
	srv.Close()

	_, err := c.Get(context.Background(), "students", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
}

func TestDo_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "students", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
}

func TestDo_KeepsCallerRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-42", r.Header.Get(HeaderRequestID))
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.Do(context.Background(), &Request{Path: "x", Header: http.Header{HeaderRequestID: {"req-42"}}})
	require.NoError(t, err)
}

func TestUnwrapEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantMessage string
		wantData    string
	}{
		{"envelope", `{"success":false,"message":"nope","data":{"a":1}}`, false, "nope", `{"a":1}`},
		{"envelope without data", `{"success":true}`, true, "", ""},
		{"object without success", `{"a":1}`, true, "", `{"a":1}`},
		{"array", `[1,2]`, true, "", `[1,2]`},
		{"empty", ``, true, "", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := unwrapEnvelope([]byte(tt.body))
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Equal(t, tt.wantData, string(resp.Data))
		})
	}
}
