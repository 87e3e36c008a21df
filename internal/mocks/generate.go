// Package mocks provides mock implementations for testing the session core.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	provider := mocks.NewMockIdentityProvider(ctrl)
//	provider.EXPECT().Permissions(gomock.Any()).Return([]string{"students"}, nil)
package mocks

// Generate mock for IdentityProvider interface from internal/ports package.
// This creates MockIdentityProvider with methods for all IdentityProvider interface methods:
// Login, Logout, Refresh, Me, SwitchRole, Permissions
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=identity_provider_mock.go github.com/FeruzLatifov/univer-front-sub000/internal/ports IdentityProvider
