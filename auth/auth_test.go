package auth

import (
	"testing"

	"omip-curator/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, Viewer, r)

	r, err = ParseRole("reviewer")
	require.NoError(t, err)
	assert.Equal(t, Reviewer, r)

	_, err = ParseRole("admin")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDefaultMatrix(t *testing.T) {
	a := NewAuthorizer(DefaultMatrix)

	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{Viewer, ViewOfficial, true},
		{Viewer, Export, true},
		{Viewer, ViewDraft, false},
		{Viewer, Upload, false},
		{Annotator, Upload, true},
		{Annotator, Schedule, true},
		{Annotator, EditElements, true},
		{Annotator, Review, false},
		{Reviewer, Review, true},
		{Reviewer, EditRuns, true},
		{Reviewer, Upload, false},
		{Reviewer, EditElements, false},
		{Reviewer, DeleteDocuments, true},
		{Role("ghost"), ViewOfficial, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			assert.Equal(t, tt.want, a.Can(tt.role, tt.perm))
			if !tt.want {
				assert.ErrorIs(t, a.Authorize(tt.role, tt.perm), apperr.ErrForbidden)
			}
		})
	}
}
