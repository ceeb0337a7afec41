package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayCmd_RejectsInvalidUser(t *testing.T) {
	configPath := "."
	cmd := payCmd(&configPath)
	cmd.SetArgs([]string{"--user", "not-a-uuid", "--phone", "0712345678"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --user")

	_, parseErr := uuid.Parse("not-a-uuid")
	assert.Equal(t, parseErr.Error(), errors.Cause(err).Error())
}
