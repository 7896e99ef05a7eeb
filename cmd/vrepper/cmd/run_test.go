package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/psantana5/vrepper/internal/recorder"
)

func TestParsePlots(t *testing.T) {
	tests := []struct {
		spec        string
		object      string
		orientation bool
		axis        int
		wantErr     bool
	}{
		{spec: "body", object: "body"},
		{spec: "body:position:y", object: "body", axis: 1},
		{spec: "wheel:orientation:z", object: "wheel", orientation: true, axis: 2},
		{spec: "wheel:ori", object: "wheel", orientation: true},
		{spec: "", wantErr: true},
		{spec: "body:speed", wantErr: true},
		{spec: "body:position:w", wantErr: true},
		{spec: "body:position:xy", wantErr: true},
		{spec: "a:b:c:d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parsePlots([]string{tt.spec})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePlots: %v", err)
			}
			p := got[0]
			if p.Object != tt.object || p.Orientation != tt.orientation || p.Axis != tt.axis {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "objects": false, "config": false, "runs": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRunDryRunRecordsFinishedRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	db := filepath.Join(t.TempDir(), "runs.db")
	rootCmd.SetArgs([]string{"run", "--dry-run", "--steps", "5", "--interval", "0", "--record", db, "--log-level", "error"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		dryRun = false
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx := context.Background()
	store, err := recorder.Open(ctx, recorder.Config{Type: "sqlite", DSN: db})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	runs, err := store.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	r := runs[0]
	if !r.Finished() || r.Steps != 5 {
		t.Errorf("run not finished with 5 steps: %+v", r)
	}
	// the run is finished after the session ended, so the real exit code is stored
	if r.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", r.ExitCode)
	}

	samples, err := store.Samples(ctx, r.ID)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 10 {
		t.Errorf("expected 5 steps x 2 objects, got %d samples", len(samples))
	}
}
