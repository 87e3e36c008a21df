package provider

import (
	"bytes"
	"encoding/json"
	"strconv"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// knownUserFields are consumed by the mapper; everything else lands in Extra.
var knownUserFields = map[string]struct{}{
	"id":                {},
	"login":             {},
	"student_id_number": {},
	"full_name":         {},
	"role":              {},
	"role_id":           {},
	"role_name":         {},
	"roles":             {},
	"permissions":       {},
	"image":             {},
}

type userDTO struct {
	ID              flexInt64            `json:"id"`
	Login           string               `json:"login"`
	StudentIDNumber string               `json:"student_id_number"`
	FullName        string               `json:"full_name"`
	Role            string               `json:"role"`
	RoleID          *flexInt64           `json:"role_id"`
	RoleName        string               `json:"role_name"`
	Roles           []domainauth.RoleRef `json:"roles"`
	Permissions     []string             `json:"permissions"`
	Image           string               `json:"image"`
}

// DecodeUserDocument parses a staff or student profile document.
func DecodeUserDocument(raw json.RawMessage) (ports.UserDocument, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ports.UserDocument{}, apperrors.Internal("profile document is missing")
	}

	var dto userDTO
	if err := json.Unmarshal(trimmed, &dto); err != nil {
		return ports.UserDocument{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode profile document")
	}
	var all map[string]any
	if err := json.Unmarshal(trimmed, &all); err != nil {
		return ports.UserDocument{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode profile document")
	}

	doc := ports.UserDocument{
		ID:              int64(dto.ID),
		Login:           dto.Login,
		StudentIDNumber: dto.StudentIDNumber,
		FullName:        dto.FullName,
		Role:            dto.Role,
		RoleName:        dto.RoleName,
		Roles:           dto.Roles,
		Permissions:     dto.Permissions,
		Image:           dto.Image,
	}
	if dto.RoleID != nil {
		id := int64(*dto.RoleID)
		doc.RoleID = &id
	}
	for k, v := range all {
		if _, known := knownUserFields[k]; known {
			continue
		}
		if doc.Extra == nil {
			doc.Extra = make(map[string]any)
		}
		doc.Extra[k] = v
	}
	return doc, nil
}

// flexInt64 accepts both 42 and "42"; some endpoints quote identifiers.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}
