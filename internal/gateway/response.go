package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

// Response is a flattened API response. Envelope fields travel as sidecars.
type Response struct {
	StatusCode int
	Header     http.Header
	// Success mirrors the envelope flag, or true for a bare 2xx body.
	Success bool
	Message string
	// Data is the envelope's data member, or the whole body when there is no envelope.
	Data json.RawMessage
}

// Decode unmarshals Data into v. An empty payload leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Data)) == 0 || bytes.Equal(bytes.TrimSpace(r.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode response payload")
	}
	return nil
}

// Decode is a generic helper around Response.Decode.
func Decode[T any](resp *Response) (T, error) {
	var out T
	err := resp.Decode(&out)
	return out, err
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// unwrapEnvelope flattens {success, data, message}. Any body without a
// "success" member is returned whole as Data.
func unwrapEnvelope(body []byte) *Response {
	resp := &Response{Success: true, Data: json.RawMessage(body)}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return resp
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Success == nil {
		return resp
	}
	resp.Success = *env.Success
	resp.Message = env.Message
	resp.Data = env.Data
	return resp
}
