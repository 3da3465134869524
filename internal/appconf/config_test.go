package appconf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_PATH", "/tmp/arrivals.db")
	t.Setenv("GTFS_STATIC_URL", "https://example.test/gtfs.zip")
	t.Setenv("GTFS_TRIP_UPDATES_URL", "https://example.test/tripupdates")
	t.Setenv("GTFS_VEHICLE_POSITIONS_URL", "https://example.test/vehicles")
}

func TestFromEnvAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("LISTEN_ADDRESS")
	os.Unsetenv("ALLOW_ORIGIN")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, defaultAllowOrigin, cfg.AllowOrigin)
}

func TestFromEnvRequiresDatabasePath(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_PATH", "")

	_, err := FromEnv()
	require.Error(t, err)
}
