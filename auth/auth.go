// Package auth holds the roles of the curation workflow and what each of
// them may do. There is no authentication: the caller's role is taken as
// given.
package auth

import (
	"fmt"

	"omip-curator/apperr"
)

// Role is the acting role of a request.
type Role string

const (
	Viewer    Role = "viewer"
	Annotator Role = "annotator"
	Reviewer  Role = "reviewer"
)

// Permission names one capability.
type Permission string

const (
	ViewOfficial    Permission = "view_official"
	ViewDraft       Permission = "view_draft"
	Upload          Permission = "upload"
	Schedule        Permission = "schedule"
	ViewBatches     Permission = "view_batches"
	EditElements    Permission = "edit_elements"
	EditRuns        Permission = "edit_runs"
	ViewRuns        Permission = "view_runs"
	Review          Permission = "review"
	Retry           Permission = "retry"
	DeleteDocuments Permission = "delete_documents"
	Export          Permission = "export"
)

// Matrix maps each role to its permissions.
type Matrix map[Role][]Permission

// DefaultMatrix is the permission table of the service.
var DefaultMatrix = Matrix{
	Viewer: {ViewOfficial, Export},
	Annotator: {
		ViewOfficial, ViewDraft, Upload, Schedule, ViewBatches,
		EditElements, EditRuns, ViewRuns, Retry, DeleteDocuments, Export,
	},
	Reviewer: {
		ViewOfficial, ViewDraft, Review, EditRuns, ViewRuns,
		Retry, DeleteDocuments, Export,
	},
}

// ParseRole validates a role name. Empty means viewer.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return Viewer, nil
	}
	r := Role(s)
	switch r {
	case Viewer, Annotator, Reviewer:
		return r, nil
	}
	return "", apperr.Validation("unknown role %q", s)
}

// Authorizer decides whether a role holds a permission.
type Authorizer interface {
	Authorize(role Role, perm Permission) error
}

// MatrixAuthorizer authorizes against a Matrix.
type MatrixAuthorizer struct {
	allowed map[Role]map[Permission]bool
}

// NewAuthorizer indexes m for lookups.
func NewAuthorizer(m Matrix) *MatrixAuthorizer {
	a := &MatrixAuthorizer{allowed: make(map[Role]map[Permission]bool, len(m))}
	for role, perms := range m {
		set := make(map[Permission]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		a.allowed[role] = set
	}
	return a
}

// Authorize returns an error wrapping apperr.ErrForbidden when role lacks perm.
func (a *MatrixAuthorizer) Authorize(role Role, perm Permission) error {
	if a.allowed[role][perm] {
		return nil
	}
	return fmt.Errorf("%w: role %s lacks %s", apperr.ErrForbidden, role, perm)
}

// Can is Authorize as a bool.
func (a *MatrixAuthorizer) Can(role Role, perm Permission) bool {
	return a.Authorize(role, perm) == nil
}
