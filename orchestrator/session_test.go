package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reprotest/diffrun"
	"reprotest/store"
	"reprotest/testbed"
	"reprotest/variation"
	"reprotest/varspec"
)

func TestSessionRunsControlBuild(t *testing.T) {
	ctx := context.Background()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "source.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	storeDir := filepath.Join(t.TempDir(), "store")
	layout, err := store.NewLayout(storeDir)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	driver, err := testbed.New("null")
	if err != nil {
		t.Fatalf("testbed.New: %v", err)
	}

	cfg := Config{
		BuildCommand:    "cp source.txt artifact",
		SourceRoot:      src,
		ArtifactPattern: "artifact",
		Store:           layout,
		Driver:          driver,
	}

	sess, err := Begin(ctx, cfg)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	dist, err := sess.Build(ctx, store.ControlName(), varspec.New())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dist == "" {
		t.Error("Build returned an empty dist path")
	}
	artifact := filepath.Join(layout.SourceRoot(store.ControlName()), "artifact")
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact not copied up into the store: %v", err)
	}

	if _, err := sess.Build(ctx, store.ControlName(), varspec.New()); err == nil {
		t.Error("expected a PlanError for a duplicate build name")
	}

	if err := sess.End(ctx, "reproducible", ""); err != nil {
		t.Fatalf("End: %v", err)
	}
}

func TestSessionDetectsTimezoneLeak(t *testing.T) {
	ctx := context.Background()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "source.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	layout, err := store.NewLayout(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	driver, err := testbed.New("null")
	if err != nil {
		t.Fatalf("testbed.New: %v", err)
	}

	cfg := Config{
		BuildCommand:    `printf '%s\n' "$TZ" > artifact`,
		SourceRoot:      src,
		ArtifactPattern: "artifact",
		Store:           layout,
		Driver:          driver,
	}
	sess, err := Begin(ctx, cfg)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer sess.End(ctx, "unreproducible", "")

	controlDist, err := sess.Build(ctx, store.ControlName(), varspec.New())
	if err != nil {
		t.Fatalf("control build: %v", err)
	}

	spec, err := varspec.Parse("+timezone", variation.Names())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	expDist, err := sess.Build(ctx, store.ExperimentName(1), spec)
	if err != nil {
		t.Fatalf("experiment build: %v", err)
	}

	res, err := diffrun.Run(controlDist, expDist, false, nil, "")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if res.Identical {
		t.Error("a TZ-dependent build should differ between GMT+12 and GMT-14")
	}
}

func TestBeginRejectsUnsafeArtifactPattern(t *testing.T) {
	driver, err := testbed.New("null")
	if err != nil {
		t.Fatalf("testbed.New: %v", err)
	}
	cfg := Config{
		BuildCommand:    "true",
		SourceRoot:      t.TempDir(),
		ArtifactPattern: "$(rm -rf /)",
		Driver:          driver,
	}
	if _, err := Begin(context.Background(), cfg); err == nil {
		t.Error("expected a sanitizer error for an unsafe artifact pattern")
	}
}
