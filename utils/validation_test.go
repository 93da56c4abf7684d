package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidCaseID(t *testing.T) {
	valid := []string{"C1", "KOE-2026-001", "9f1c2d7e-0b7a-4c55-9f7c-3a4b6e1d2c00", "proj.1:case_2"}
	for _, id := range valid {
		assert.True(t, IsValidCaseID(id), id)
	}

	invalid := []string{"", "-C1", "bad id", "bad!id", "a/b"}
	for _, id := range invalid {
		assert.False(t, IsValidCaseID(id), id)
	}
}

type sample struct {
	Name   string `json:"name" validate:"required"`
	CaseID string `json:"case_id" validate:"case_id"`
	Nested struct {
		Count int `json:"count" validate:"gte=1"`
	} `json:"nested"`
}

func TestFieldErrorsUseJSONPaths(t *testing.T) {
	err := ValidateStruct(sample{CaseID: "bad id"})
	require.Error(t, err)

	fields := FieldErrors(err)
	require.Len(t, fields, 3)
	assert.Equal(t, FieldError{Field: "name", Rule: "required", Message: "is required"}, fields[0])
	assert.Equal(t, "case_id", fields[1].Field)
	assert.Equal(t, "nested.count", fields[2].Field)
	assert.Equal(t, "must be at least 1", fields[2].Message)
}

func TestPrettyPrint(t *testing.T) {
	out, err := PrettyPrint(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", out)
}
