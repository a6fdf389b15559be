package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/recast/internal/models"
)

func TestSelectionSQL(t *testing.T) {
	table, where, err := selectionSQL(models.Selection{
		Collection:  "docs",
		Filter:      "lang = 'mixed'",
		PrimaryKey:  "id",
		MarkerField: "recast_job",
		JobID:       "j1",
	})
	require.NoError(t, err)
	assert.Equal(t, "docs", table)
	assert.Equal(t, "(lang = 'mixed') AND (recast_job IS NONE OR recast_job IS NULL OR recast_job = $job)", where)
}

func TestSelectionSQLWithoutFilter(t *testing.T) {
	_, where, err := selectionSQL(models.Selection{
		Collection:  "docs",
		PrimaryKey:  "id",
		MarkerField: "done_by",
	})
	require.NoError(t, err)
	assert.Equal(t, "(done_by IS NONE OR done_by IS NULL OR done_by = $job)", where)
}

func TestSelectionSQLRejectsInjection(t *testing.T) {
	tests := []models.Selection{
		{Collection: "docs; DELETE docs", PrimaryKey: "id", MarkerField: "m"},
		{Collection: "docs", PrimaryKey: "id OR 1", MarkerField: "m"},
		{Collection: "docs", PrimaryKey: "id", MarkerField: ""},
	}
	for _, sel := range tests {
		_, _, err := selectionSQL(sel)
		assert.True(t, errors.Is(err, ErrInvalidIdentifier), "expected ErrInvalidIdentifier for %+v", sel)
	}
}

func TestWrapQueryErrorPassesThrough(t *testing.T) {
	assert.Nil(t, wrapQueryError(nil))
	plain := errors.New("socket closed")
	assert.Equal(t, plain, wrapQueryError(plain))
}
