package flightlog_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/fieldrobotics/agroctl/internal/command"
	"codeberg.org/fieldrobotics/agroctl/internal/flightlog"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

func testConfig(t *testing.T) flightlog.Config {
	t.Helper()

	cfg := flightlog.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "flightlog.db")
	cfg.Enabled = true

	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := flightlog.DefaultConfig()
	assert.NoError(t, cfg.Validate(), "disabled config needs no path")

	cfg.Enabled = true
	cfg.DBPath = ""
	assert.Error(t, cfg.Validate())

	cfg = testConfig(t)
	assert.NoError(t, cfg.Validate())

	cfg.BatchSize = -1
	assert.Error(t, cfg.Validate())
}

func TestRepositoryPersistsCommands(t *testing.T) {
	cfg := testConfig(t)

	repo, err := flightlog.NewRepository(cfg)
	require.NoError(t, err)

	res := command.Result{
		Sequence:  1,
		CommandID: 400,
		Name:      "ARM",
		Outcome:   command.OutcomeSuccess,
		Params:    [7]float64{1, 21196},
		Duration:  1500 * time.Microsecond,
		Timestamp: time.Now(),
	}
	require.NoError(t, repo.RecordCommand(res))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var name, outcome string
	var p2 float64
	err = db.QueryRow("SELECT name, outcome, p2 FROM commands WHERE sequence = 1").
		Scan(&name, &outcome, &p2)
	require.NoError(t, err)
	assert.Equal(t, "ARM", name)
	assert.Equal(t, "success", outcome)
	assert.InDelta(t, 21196.0, p2, 1e-9)
}

func TestRepositoryFlushesTelemetryOnClose(t *testing.T) {
	cfg := testConfig(t)

	repo, err := flightlog.NewRepository(cfg)
	require.NoError(t, err)

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordTelemetry(flightlog.Sample{
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Lat:         51.5,
			Lon:         -0.12,
			RelativeAlt: 25,
			GroundSpeed: 3.2,
			HDOP:        1.1,
			Satellites:  9,
			FixType:     3,
			Armed:       true,
			Mode:        "GUIDED",
			FlightState: telemetry.StateAirborne,
		}))
	}
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&count))
	assert.Equal(t, 3, count)

	var mode, state string
	var armed int
	err = db.QueryRow("SELECT mode, flight_state, armed FROM telemetry ORDER BY timestamp LIMIT 1").
		Scan(&mode, &state, &armed)
	require.NoError(t, err)
	assert.Equal(t, "GUIDED", mode)
	assert.Equal(t, "airborne", state)
	assert.Equal(t, 1, armed)
}

func TestRepositoryBatchFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 2

	repo, err := flightlog.NewRepository(cfg)
	require.NoError(t, err)
	defer repo.Close()

	now := time.Now()
	require.NoError(t, repo.RecordTelemetry(flightlog.Sample{Timestamp: now}))
	require.NoError(t, repo.RecordTelemetry(flightlog.Sample{Timestamp: now.Add(time.Second)}))

	// The second sample filled the batch, so both rows are on disk
	// before Close.
	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRepositoryReopensExistingSchema(t *testing.T) {
	cfg := testConfig(t)

	repo, err := flightlog.NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, repo.RecordCommand(command.Result{Sequence: 1, Name: "LAND", Timestamp: time.Now()}))
	require.NoError(t, repo.Close())

	// Reopening must keep existing data.
	repo, err = flightlog.NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, repo.RecordCommand(command.Result{Sequence: 2, Name: "RTL", Timestamp: time.Now()}))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM commands").Scan(&count))
	assert.Equal(t, 2, count)

	version, err := flightlog.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, flightlog.SchemaVersion, version)
}

func TestRepositoryRejectsEmptyPath(t *testing.T) {
	cfg := flightlog.DefaultConfig()
	cfg.DBPath = ""

	_, err := flightlog.NewRepository(cfg)
	assert.Error(t, err)
}
