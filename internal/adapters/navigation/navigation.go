// Package navigation adapts ports.Navigator to the hosts the session core runs in.
package navigation

import (
	"context"
	"log/slog"

	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

var (
	_ ports.Navigator = Func(nil)
	_ ports.Navigator = (*Log)(nil)
)

// Func adapts a plain function to ports.Navigator. A nil Func does nothing.
type Func func(ctx context.Context, reason string)

func (f Func) ToEntryPoint(ctx context.Context, reason string) {
	if f != nil {
		f(ctx, reason)
	}
}

// Log is the headless navigator: it records the redirect and optionally
// notifies a callback, e.g. the CLI telling the user to sign in again.
type Log struct {
	Logger    *slog.Logger
	LoginPath string
	Then      func(ctx context.Context, reason string)
}

func (l *Log) ToEntryPoint(ctx context.Context, reason string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "redirecting to entry point", "reason", reason, "location", l.loginPath())
	if l.Then != nil {
		l.Then(ctx, reason)
	}
}

func (l *Log) loginPath() string {
	if l.LoginPath == "" {
		return "/login"
	}
	return l.LoginPath
}
