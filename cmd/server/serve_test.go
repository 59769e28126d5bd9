package main

import (
	"testing"

	"shiftbot/internal/config"
	"shiftbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShiftPolicy_AppliesWorkStart(t *testing.T) {
	policy, err := shiftPolicy(&config.Config{WorkStart: "09:30"})
	require.NoError(t, err)
	assert.Equal(t, models.TimeOfDay{Hour: 9, Minute: 30}, policy.WorkStart)
}

func TestShiftPolicy_RejectsInvalidWorkStart(t *testing.T) {
	_, err := shiftPolicy(&config.Config{WorkStart: "25:99"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORK_START")
}
