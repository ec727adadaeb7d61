package entity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "url", Message: "URL is required"}
	assert.Equal(t, "validation error on field 'url': URL is required", err.Error())
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestValidationErrors(t *testing.T) {
	var ve ValidationErrors
	assert.NoError(t, ve.ErrOrNil())

	ve.Add("title", "title is required")
	ve.Add("resources[2].url", "url is required")
	err := ve.ErrOrNil()

	assert.EqualError(t, err, "validation failed: title: title is required; resources[2].url: url is required")
	assert.ErrorIs(t, fmt.Errorf("map: %w", err), ErrValidationFailed)
}

func TestValidationErrors_Merge(t *testing.T) {
	var ve ValidationErrors
	ve.Merge(nil)
	ve.Merge(ValidationErrors{{Path: "a", Message: "x"}})
	ve.Merge(&ValidationError{Field: "b", Message: "y"})
	ve.Merge(errors.New("z"))

	assert.Equal(t, ValidationErrors{
		{Path: "a", Message: "x"},
		{Path: "b", Message: "y"},
		{Path: "", Message: "z"},
	}, ve)
}
