package service

import (
	"slices"
	"strings"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	"github.com/FeruzLatifov/univer-front-sub000/internal/ports"
)

// mapProfile turns a provider profile document into an Identity.
// Students always carry the student role and never have switchable roles.
func mapProfile(doc ports.UserDocument, kind domainauth.PrincipalKind) domainauth.Identity {
	id := domainauth.Identity{
		ID:            doc.ID,
		DisplayName:   displayName(doc, kind),
		PrincipalKind: kind,
		Role:          doc.Role,
		RoleName:      doc.RoleName,
		Permissions:   slices.Clone(doc.Permissions),
		AvatarURL:     doc.Image,
	}
	if id.Permissions == nil {
		id.Permissions = []string{}
	}
	if len(doc.Extra) > 0 {
		id.Meta = make(map[string]any, len(doc.Extra))
		for k, v := range doc.Extra {
			id.Meta[k] = v
		}
	}

	if kind == domainauth.PrincipalStudent {
		id.Role = domainauth.StudentRole
		if id.RoleName == "" {
			id.RoleName = "Student"
		}
		if doc.StudentIDNumber != "" {
			if id.Meta == nil {
				id.Meta = make(map[string]any, 1)
			}
			id.Meta["studentIdNumber"] = doc.StudentIDNumber
		}
		return id
	}

	if doc.RoleID != nil {
		roleID := *doc.RoleID
		id.RoleID = &roleID
	}
	id.Roles = slices.Clone(doc.Roles)
	if id.RoleName == "" {
		for _, r := range id.Roles {
			if r.Code == id.Role {
				id.RoleName = r.Name
				break
			}
		}
	}
	return id
}

func displayName(doc ports.UserDocument, kind domainauth.PrincipalKind) string {
	if name := strings.TrimSpace(doc.FullName); name != "" {
		return name
	}
	if kind == domainauth.PrincipalStudent {
		return doc.StudentIDNumber
	}
	return doc.Login
}
