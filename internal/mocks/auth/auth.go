package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"sync"
	"sync/atomic"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*FakeProvider)(nil)
	_ ports.Navigator        = (*RecordingNavigator)(nil)
)

// FakeProvider simulates the identity provider. Each operation delegates to its
// Func field when set and otherwise returns the canned values below.
// Call counters are safe for concurrent use.
type FakeProvider struct {
	LoginFunc       func(ctx context.Context, creds domainauth.Credentials) (ports.LoginResult, error)
	LogoutFunc      func(ctx context.Context, kind domainauth.PrincipalKind) error
	RefreshFunc     func(ctx context.Context, kind domainauth.PrincipalKind, refreshToken string) (ports.TokenGrant, error)
	MeFunc          func(ctx context.Context, kind domainauth.PrincipalKind) (ports.UserDocument, error)
	SwitchRoleFunc  func(ctx context.Context, roleID int64) (ports.LoginResult, error)
	PermissionsFunc func(ctx context.Context) ([]string, error)

	// Canned responses used when the matching Func is nil.
	LoginResult      ports.LoginResult
	RefreshGrant     ports.TokenGrant
	User             ports.UserDocument
	PermissionList   []string
	LoginCalls       atomic.Int32
	LogoutCalls      atomic.Int32
	RefreshCalls     atomic.Int32
	MeCalls          atomic.Int32
	SwitchRoleCalls  atomic.Int32
	PermissionsCalls atomic.Int32
}

func (f *FakeProvider) Login(ctx context.Context, creds domainauth.Credentials) (ports.LoginResult, error) {
	f.LoginCalls.Add(1)
	if f.LoginFunc != nil {
		return f.LoginFunc(ctx, creds)
	}
	if f.LoginResult.Grant.AccessToken == "" {
		return ports.LoginResult{}, apperrors.AuthenticationFailed("", nil)
	}
	return f.LoginResult, nil
}

func (f *FakeProvider) Logout(ctx context.Context, kind domainauth.PrincipalKind) error {
	f.LogoutCalls.Add(1)
	if f.LogoutFunc != nil {
		return f.LogoutFunc(ctx, kind)
	}
	return nil
}

func (f *FakeProvider) Refresh(ctx context.Context, kind domainauth.PrincipalKind, refreshToken string) (ports.TokenGrant, error) {
	f.RefreshCalls.Add(1)
	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx, kind, refreshToken)
	}
	if f.RefreshGrant.AccessToken == "" {
		return ports.TokenGrant{}, apperrors.RefreshFailed(nil)
	}
	return f.RefreshGrant, nil
}

func (f *FakeProvider) Me(ctx context.Context, kind domainauth.PrincipalKind) (ports.UserDocument, error) {
	f.MeCalls.Add(1)
	if f.MeFunc != nil {
		return f.MeFunc(ctx, kind)
	}
	return f.User, nil
}

func (f *FakeProvider) SwitchRole(ctx context.Context, roleID int64) (ports.LoginResult, error) {
	f.SwitchRoleCalls.Add(1)
	if f.SwitchRoleFunc != nil {
		return f.SwitchRoleFunc(ctx, roleID)
	}
	return ports.LoginResult{}, apperrors.New(apperrors.ErrCodeForbidden, "role switch not configured")
}

func (f *FakeProvider) Permissions(ctx context.Context) ([]string, error) {
	f.PermissionsCalls.Add(1)
	if f.PermissionsFunc != nil {
		return f.PermissionsFunc(ctx)
	}
	return append([]string(nil), f.PermissionList...), nil
}

// RecordingNavigator records every redirect to the entry point.
type RecordingNavigator struct {
	mu      sync.Mutex
	reasons []string
}

func (n *RecordingNavigator) ToEntryPoint(_ context.Context, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

// Reasons returns the recorded redirect reasons in order.
func (n *RecordingNavigator) Reasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reasons...)
}

// Count returns the number of redirects.
func (n *RecordingNavigator) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons)
}
