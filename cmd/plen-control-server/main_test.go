package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"plen/pkg/drivers/mqttbridge"
	"plen/pkg/drivers/null"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func openDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// runWithDriver parses args with the real flag set and hands the resulting
// context to createDriver.
func runWithDriver(t *testing.T, db *bolt.DB, args ...string) (closableDriver, error) {
	t.Helper()
	var (
		drv    closableDriver
		drvErr error
	)
	app := newApp()
	app.Action = func(c *cli.Context) error {
		drv, drvErr = createDriver(c, db)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"plen-control-server"}, args...)))
	if drv != nil {
		t.Cleanup(drv.Close)
	}
	return drv, drvErr
}

func TestCreateNullDriver(t *testing.T) {
	drv, err := runWithDriver(t, openDB(t))
	require.NoError(t, err)
	assert.IsType(t, &null.Driver{}, drv)
}

func TestCreateMQTTDriverPersistsOverrides(t *testing.T) {
	db := openDB(t)

	drv, err := runWithDriver(t, db,
		"--driver", "mqtt",
		"--mqtt-broker", "tcp://bridge.local:1883",
		"--mqtt-topic-root", "lab/plen",
		"--mqtt-timeout", "1500ms",
	)
	require.NoError(t, err)
	bridge, ok := drv.(*mqttbridge.Driver)
	require.True(t, ok)

	cfg, err := bridge.Config()
	require.NoError(t, err)
	assert.Equal(t, "tcp://bridge.local:1883", cfg.Broker)
	assert.Equal(t, "lab/plen", cfg.TopicRoot)
	assert.Equal(t, int((1500 * time.Millisecond).Milliseconds()), cfg.ResponseTimeout)
	assert.Equal(t, mqttbridge.DefaultConfig().ClientID, cfg.ClientID)

	// Flags that are not given keep the stored values.
	drv, err = runWithDriver(t, db, "--driver", "mqtt")
	require.NoError(t, err)
	cfg, err = drv.(*mqttbridge.Driver).Config()
	require.NoError(t, err)
	assert.Equal(t, "lab/plen", cfg.TopicRoot)
}

func TestCreateDriverRejectsInvalidConfig(t *testing.T) {
	_, err := runWithDriver(t, openDB(t), "--driver", "mqtt", "--mqtt-topic-root", "plen/#")
	assert.ErrorContains(t, err, "invalid bridge config")
}

func TestCreateUnknownDriver(t *testing.T) {
	_, err := runWithDriver(t, openDB(t), "--driver", "serial")
	assert.ErrorContains(t, err, "unknown driver")
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "plen.env")
	require.NoError(t, os.WriteFile(path, []byte("PLEN_DOTENV_TEST=17300\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("PLEN_DOTENV_TEST") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "17300", os.Getenv("PLEN_DOTENV_TEST"))
}
