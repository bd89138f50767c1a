package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidation(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidateRejectsMaxMasterOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.MaxMaster = 200
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnsupportedBaudRate(t *testing.T) {
	cfg := Default()
	cfg.BaudRate = 12345
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsZeroMaxInfoFrames(t *testing.T) {
	cfg := Default()
	cfg.MaxInfoFrames = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsAutoBaudAndZeroConfigTogether(t *testing.T) {
	cfg := Default()
	cfg.AutoBaudEnabled = true
	cfg.ZeroConfigEnabled = true
	assert.Error(t, Validate(cfg))
}

func TestToMSTPConfigCarriesFieldsThrough(t *testing.T) {
	cfg := Default()
	cfg.MacAddress = 5
	cfg.SlaveMode = true

	mc := cfg.ToMSTPConfig()
	assert.EqualValues(t, 5, mc.ThisStation)
	assert.EqualValues(t, 5, mc.PreferredStation)
	assert.True(t, mc.SlaveMode)
	assert.Equal(t, cfg.MaxMaster, mc.MaxMaster)
	assert.Equal(t, cfg.BaudRate, mc.BaudRate)
}

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsINIFileAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bacstack.ini")
	contents := "mac_address = 12\nbaud_rate = 76800\nslave_mode = true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 12, cfg.MacAddress)
	assert.Equal(t, 76800, cfg.BaudRate)
	assert.True(t, cfg.SlaveMode)
	assert.Equal(t, Default().MaxMaster, cfg.MaxMaster)
}

func TestLoadRejectsInvalidFileContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bacstack.ini")
	require.NoError(t, os.WriteFile(path, []byte("baud_rate = 1200\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bacstack.ini")
	require.NoError(t, os.WriteFile(path, []byte("mac_address = 12\n"), 0o600))

	t.Setenv("BACSTACK_MAC_ADDRESS", "20")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 20, cfg.MacAddress)
}
