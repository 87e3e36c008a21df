package metrics

import (
	"time"

	obserrors "github.com/FeruzLatifov/univer-front-sub000/internal/observability/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Session lifecycle events.
const (
	EventLogin              = "login"
	EventLogout             = "logout"
	EventRefresh            = "refresh"
	EventPermissionsRefresh = "permissions_refresh"
	EventIntegrityViolation = "integrity_violation"
	EventTokenExpired       = "token_expired"
	EventRoleSwitch         = "role_switch"
)

// AuthEvent captures one session lifecycle event for metric emission.
type AuthEvent struct {
	Event    string
	Kind     string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitAuthEvent emits standardised session metrics.
func EmitAuthEvent(sink statsd.Sink, in AuthEvent) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"event":  in.Event,
		"result": in.Result,
	}
	if in.Kind != "" {
		tags["principal_kind"] = in.Kind
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("auth.event", 1, tags)

	if in.Duration > 0 {
		sink.Timing("auth.duration", in.Duration, CloneTags(tags))
	}
}

// ResultFor maps an error to ResultSuccess or ResultError.
func ResultFor(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
