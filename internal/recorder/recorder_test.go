package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/vrepper/internal/driver"
	"github.com/psantana5/vrepper/internal/remoteapi"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	run, err := s.BeginRun(ctx, 19997, "scenes/body_joint_wheel.ttt")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.False(t, run.Finished())

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 19997, got.Port)
	assert.Equal(t, -1, got.ExitCode)
	assert.False(t, got.Finished())

	require.NoError(t, s.FinishRun(ctx, run.ID, 0, 100))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.Finished())
	assert.Equal(t, 0, got.ExitCode)
	assert.Equal(t, 100, got.Steps)
	assert.False(t, got.EndedAt.Before(got.StartedAt))

	assert.ErrorIs(t, s.FinishRun(ctx, run.ID, 1, 3), ErrRunFinished)
	assert.ErrorIs(t, s.FinishRun(ctx, "missing", 0, 0), ErrRunNotFound)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSamplesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	run, err := s.BeginRun(ctx, 20000, "scene.ttt")
	require.NoError(t, err)

	sink := s.Sink(run.ID)
	for step := 0; step < 3; step++ {
		for _, obj := range []string{"wheel", "body"} {
			require.NoError(t, sink(ctx, driver.Sample{
				Step:        step,
				Object:      obj,
				Handle:      remoteapi.Handle(10 + step),
				Position:    remoteapi.Vec3{float32(step), 0.5, -1},
				Orientation: remoteapi.Vec3{0, 0, float32(step) / 4},
				Elapsed:     time.Duration(step) * time.Millisecond,
			}))
		}
	}

	samples, err := s.Samples(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, samples, 6)

	assert.Equal(t, "body", samples[0].Object)
	assert.Equal(t, "wheel", samples[1].Object)
	last := samples[5]
	assert.Equal(t, 2, last.Step)
	assert.Equal(t, remoteapi.Vec3{2, 0.5, -1}, last.Position)
	assert.Equal(t, remoteapi.Vec3{0, 0, 0.5}, last.Orientation)
	assert.Equal(t, 2*time.Millisecond, last.Elapsed)

	// a step is recorded once per object
	assert.Error(t, sink(ctx, driver.Sample{Step: 0, Object: "body"}))

	other, err := s.Samples(ctx, "other-run")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.BeginRun(ctx, 19999+i, "scene.ttt")
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	runs, err = s.Runs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := Open(ctx, Config{Type: "sqlite", DSN: path})
	require.NoError(t, err)
	run, err := s.BeginRun(ctx, 19997, "scene.ttt")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Type: "sqlite", DSN: path})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "scene.ttt", got.Scene)
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "mongo", DSN: "x"}},
		{"missing sqlite path", Config{Type: "sqlite"}},
		{"missing postgres dsn", Config{Type: "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.cfg)
			assert.Error(t, err)
		})
	}

	_, err := Open(context.Background(), Config{Type: "mongo", DSN: "x"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{driver: "sqlite3"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

// Set DATABASE_DSN to run against PostgreSQL.
func TestPostgreSQLIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{Type: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	run, err := s.BeginRun(ctx, 19997, "scene.ttt")
	require.NoError(t, err)
	require.NoError(t, s.RecordSample(ctx, run.ID, driver.Sample{Step: 0, Object: "body"}))
	require.NoError(t, s.FinishRun(ctx, run.ID, 0, 1))

	samples, err := s.Samples(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}
