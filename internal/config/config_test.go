package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsWriteQuorumAboveFactor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replication.WriteQuorum = cfg.Replication.Factor + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	os.Setenv("DYNAMO_PORT", "9999")
	defer os.Unsetenv("DYNAMO_PORT")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoadReturnsDefaultsWithoutOverrides(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Replication.Factor)
	assert.Equal(t, 2, cfg.Replication.WriteQuorum)
	assert.Equal(t, 150, cfg.Ring.Vnodes)
}
