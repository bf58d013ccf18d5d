package builddb

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAndGetRun(t *testing.T) {
	db := openTestDB(t)

	rec := &RunRecord{
		UUID:      "run-1",
		Command:   "make build",
		VarSpec:   "+all",
		StartTime: time.Now(),
	}
	if err := db.StartRun(rec); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusRunning {
		t.Errorf("status = %q, want %q", got.Status, RunStatusRunning)
	}
	if got.Command != "make build" {
		t.Errorf("command = %q, want %q", got.Command, "make build")
	}
}

func TestStartRunEmptyUUID(t *testing.T) {
	db := openTestDB(t)
	err := db.StartRun(&RunRecord{})
	if !IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFinishRun(t *testing.T) {
	db := openTestDB(t)
	if err := db.StartRun(&RunRecord{UUID: "run-1", StartTime: time.Now()}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	end := time.Now()
	if err := db.FinishRun("run-1", RunStatusUnreproducible, end, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusUnreproducible {
		t.Errorf("status = %q, want %q", got.Status, RunStatusUnreproducible)
	}
	if !got.EndTime.Equal(end) {
		t.Errorf("end time not persisted")
	}
}

func TestFinishRunNotFound(t *testing.T) {
	db := openTestDB(t)
	err := db.FinishRun("missing", RunStatusFailed, time.Now(), "boom")
	if !IsRecordNotFound(err) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestActiveRun(t *testing.T) {
	db := openTestDB(t)
	if err := db.StartRun(&RunRecord{UUID: "run-1", StartTime: time.Now()}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	active, err := db.ActiveRun()
	if err != nil {
		t.Fatalf("ActiveRun: %v", err)
	}
	if active == nil || active.UUID != "run-1" {
		t.Fatalf("ActiveRun = %v, want run-1", active)
	}

	if err := db.FinishRun("run-1", RunStatusReproducible, time.Now(), ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	active, err = db.ActiveRun()
	if err != nil {
		t.Fatalf("ActiveRun: %v", err)
	}
	if active != nil {
		t.Fatalf("ActiveRun = %v, want nil", active)
	}
}

func TestExperimentsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	control := &ExperimentRecord{RunUUID: "run-1", Name: "control", Status: ExperimentStatusSuccess, SHA256: "aaa"}
	exp1 := &ExperimentRecord{RunUUID: "run-1", Name: "experiment-1", Variations: []string{"umask", "timezone"}, Status: ExperimentStatusSuccess, SHA256: "bbb"}

	if err := db.PutExperiment(control); err != nil {
		t.Fatalf("PutExperiment(control): %v", err)
	}
	if err := db.PutExperiment(exp1); err != nil {
		t.Fatalf("PutExperiment(exp1): %v", err)
	}

	recs, err := db.ListExperiments("run-1")
	if err != nil {
		t.Fatalf("ListExperiments: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
}

func TestPutExperimentValidation(t *testing.T) {
	db := openTestDB(t)
	if err := db.PutExperiment(&ExperimentRecord{Name: "control"}); !IsValidationError(err) {
		t.Errorf("expected ValidationError for missing RunUUID, got %v", err)
	}
	if err := db.PutExperiment(&ExperimentRecord{RunUUID: "run-1"}); !IsValidationError(err) {
		t.Errorf("expected ValidationError for missing Name, got %v", err)
	}
}
