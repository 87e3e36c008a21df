package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

const (
	// DefaultMessageExpr finds the user-facing message in common error envelopes.
	DefaultMessageExpr = "message || error.message || error"
	// DefaultFieldsExpr finds per-field validation messages.
	DefaultFieldsExpr = "errors || error.errors"
)

// APIError is a non-2xx response with the display fields extracted from its body.
type APIError struct {
	StatusCode int
	Message    string
	// Errors maps a field name to its validation messages.
	Errors map[string][]string
	Body   []byte
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// FieldNames returns the fields with validation messages in sorted order.
func (e *APIError) FieldNames() []string {
	names := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// appError classifies the response for callers that only look at codes.
func (e *APIError) appError() *apperrors.AppError {
	code := apperrors.ErrCodeNetwork
	if e.StatusCode == http.StatusForbidden {
		code = apperrors.ErrCodeForbidden
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	appErr := apperrors.Wrap(e, code, msg)
	if names := e.FieldNames(); len(names) > 0 {
		appErr.Field = names[0]
	}
	return appErr
}

type errorExtractor struct {
	messageExpr string
	fieldsExpr  string
}

func newErrorExtractor(messageExpr, fieldsExpr string) (errorExtractor, error) {
	x := errorExtractor{
		messageExpr: strings.TrimSpace(messageExpr),
		fieldsExpr:  strings.TrimSpace(fieldsExpr),
	}
	if x.messageExpr == "" {
		x.messageExpr = DefaultMessageExpr
	}
	if x.fieldsExpr == "" {
		x.fieldsExpr = DefaultFieldsExpr
	}
	for _, expr := range []string{x.messageExpr, x.fieldsExpr} {
		if _, err := jmespath.Compile(expr); err != nil {
			return errorExtractor{}, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid JMESPath expression %q", expr)
		}
	}
	return x, nil
}

func (x errorExtractor) extract(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: body}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return apiErr
	}
	if v, err := jmespath.Search(x.messageExpr, doc); err == nil {
		if s, ok := v.(string); ok {
			apiErr.Message = s
		}
	}
	if v, err := jmespath.Search(x.fieldsExpr, doc); err == nil {
		apiErr.Errors = toFieldErrors(v)
	}
	return apiErr
}

// toFieldErrors accepts {"field": "msg"} and {"field": ["msg", ...]}.
func toFieldErrors(v any) map[string][]string {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string][]string, len(obj))
	for field, raw := range obj {
		switch val := raw.(type) {
		case string:
			out[field] = []string{val}
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					out[field] = append(out[field], s)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
