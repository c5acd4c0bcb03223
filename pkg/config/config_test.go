package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suncharge/suncharge/pkg/types"
)

const validConfig = `{
	"tesla": {
		"email": "owner@example.com",
		"vehicle_index": 0
	},
	"alphaess": {
		"app_id": "alpha123",
		"app_secret": "secret456",
		"serial": "AL1002012345678"
	},
	"charging": {
		"min_surplus_watts": 1200,
		"max_amps": 16,
		"battery_charging_factor": 0.5,
		"home_battery_reserve_soc": 20
	}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, validConfig))
		require.NoError(t, err)

		assert.Equal(t, "owner@example.com", cfg.Tesla.Email)
		assert.Equal(t, "AL1002012345678", cfg.AlphaESS.Serial)
		assert.Equal(t, 1200.0, cfg.Charging.MinSurplusW)
		assert.Equal(t, 0.5, cfg.Charging.BatteryChargingFactor)
	})

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `{
			"tesla": {"email": "owner@example.com"},
			"alphaess": {"app_id": "a", "app_secret": "b", "serial": "c"}
		}`))
		require.NoError(t, err)

		assert.Equal(t, 240.0, cfg.Charging.Volts)
		assert.Equal(t, 1, cfg.Charging.Phases)
		assert.Equal(t, 1, cfg.Charging.MinAmps)
		assert.Equal(t, 16, cfg.Charging.MaxAmps)
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.Equal(t, "config", types.ErrorClass(err))
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{"tesla": {`))
		require.Error(t, err)
		assert.Equal(t, "config", types.ErrorClass(err))
	})

	t.Run("Missing AlphaESS Credentials", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{
			"tesla": {"email": "owner@example.com"},
			"alphaess": {"app_id": "a"}
		}`))
		require.Error(t, err)
		assert.Equal(t, "config", types.ErrorClass(err))
	})

	t.Run("Invalid Email", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{
			"tesla": {"email": "not-an-email"},
			"alphaess": {"app_id": "a", "app_secret": "b", "serial": "c"}
		}`))
		require.Error(t, err)
		assert.Equal(t, "config", types.ErrorClass(err))
	})

	t.Run("Charging Factor Out Of Range", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{
			"tesla": {"email": "owner@example.com"},
			"alphaess": {"app_id": "a", "app_secret": "b", "serial": "c"},
			"charging": {"battery_charging_factor": 1.5}
		}`))
		require.Error(t, err)
		assert.Equal(t, "config", types.ErrorClass(err))
	})
}
