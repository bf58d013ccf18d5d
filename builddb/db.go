// Package builddb provides persistent tracking of reproducibility check runs
// using bbolt, so past verification history survives process restarts.
package builddb

import (
	"bytes"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for bbolt database
const (
	BucketRuns        = "runs"
	BucketExperiments = "experiments"
)

// DB wraps a bbolt database for run and experiment tracking.
type DB struct {
	db   *bolt.DB
	path string
}

// Run status values.
const (
	RunStatusRunning        = "running"
	RunStatusReproducible   = "reproducible"
	RunStatusUnreproducible = "unreproducible"
	RunStatusFailed         = "failed"
	RunStatusAborted        = "aborted"
)

// Experiment status values.
const (
	ExperimentStatusRunning = "running"
	ExperimentStatusSuccess = "success"
	ExperimentStatusFailed  = "failed"
)

// RunRecord captures metadata for a single reprotest invocation: one build
// command checked under a control build plus N variation experiments.
type RunRecord struct {
	UUID       string    `json:"uuid"`
	Command    string    `json:"command"`
	VarSpec    string    `json:"varspec"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status"`
	NumBuilds  int       `json:"num_builds"`
	StorePath  string    `json:"store_path"`
	FailureMsg string    `json:"failure_msg,omitempty"`
}

// ExperimentRecord represents one build (control or experiment-N) within a run.
type ExperimentRecord struct {
	RunUUID    string    `json:"run_uuid"`
	Name       string    `json:"name"` // "control" or "experiment-<i>"
	Variations []string  `json:"variations"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status"`
	SHA256     string    `json:"sha256,omitempty"`
	Identical  bool      `json:"identical"`
	FailureMsg string    `json:"failure_msg,omitempty"`
}

// OpenDB opens or creates a bbolt database at the given path, initializing
// the runs and experiments buckets if they don't exist.
func OpenDB(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketRuns)); err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: BucketRuns, Err: err}
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketExperiments)); err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: BucketExperiments, Err: err}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{db: bdb, path: path}, nil
}

// Close closes the database connection. Safe to call multiple times.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// StartRun writes a new run record in "running" status.
func (db *DB) StartRun(rec *RunRecord) error {
	if rec.UUID == "" {
		return &ValidationError{Field: "record.UUID", Err: ErrEmptyUUID}
	}
	rec.Status = RunStatusRunning
	return db.saveRun(rec)
}

// FinishRun updates a run's terminal status, end time, and optional failure message.
func (db *DB) FinishRun(uuid, status string, endTime time.Time, failureMsg string) error {
	if uuid == "" {
		return &ValidationError{Field: "uuid", Err: ErrEmptyUUID}
	}

	err := db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		data := bucket.Get([]byte(uuid))
		if data == nil {
			return &RecordError{Op: "finish", UUID: uuid, Err: ErrRecordNotFound}
		}
		var rec RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return &RecordError{Op: "unmarshal", UUID: uuid, Err: err}
		}
		rec.Status = status
		rec.EndTime = endTime
		rec.FailureMsg = failureMsg
		updated, err := json.Marshal(&rec)
		if err != nil {
			return &RecordError{Op: "marshal", UUID: uuid, Err: err}
		}
		return bucket.Put([]byte(uuid), updated)
	})
	if err != nil {
		return &RecordError{Op: "finish", UUID: uuid, Err: err}
	}
	return nil
}

// GetRun fetches a run record by UUID.
func (db *DB) GetRun(uuid string) (*RunRecord, error) {
	if uuid == "" {
		return nil, &ValidationError{Field: "uuid", Err: ErrEmptyUUID}
	}

	var rec RunRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		data := bucket.Get([]byte(uuid))
		if data == nil {
			return &RecordError{Op: "get", UUID: uuid, Err: ErrRecordNotFound}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns all run records, most recently started first.
func (db *DB) ListRuns() ([]RunRecord, error) {
	var recs []RunRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return &RecordError{Op: "unmarshal", UUID: string(k), Err: err}
			}
			recs = append(recs, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRunsByStartDesc(recs)
	return recs, nil
}

// ActiveRun returns the first run record with no end time set, if any.
func (db *DB) ActiveRun() (*RunRecord, error) {
	var rec *RunRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.EndTime.IsZero() {
				rec = &r
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (db *DB) saveRun(rec *RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal", UUID: rec.UUID, Err: err}
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		return bucket.Put([]byte(rec.UUID), data)
	})
}

// PutExperiment writes or updates an experiment record for a run.
func (db *DB) PutExperiment(rec *ExperimentRecord) error {
	if rec.RunUUID == "" {
		return &ValidationError{Field: "RunUUID", Err: ErrEmptyUUID}
	}
	if rec.Name == "" {
		return &ValidationError{Field: "Name", Err: ErrEmptyName}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal experiment", UUID: rec.RunUUID, Err: err}
	}

	key := experimentKey(rec.RunUUID, rec.Name)
	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketExperiments))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketExperiments, Err: ErrBucketNotFound}
		}
		return bucket.Put(key, data)
	})
}

// ListExperiments returns all experiment records for a run, in storage order:
// byte order of the build names, so "control" comes before the experiments
// and "experiment-10" sorts before "experiment-2".
func (db *DB) ListExperiments(runUUID string) ([]ExperimentRecord, error) {
	if runUUID == "" {
		return nil, &ValidationError{Field: "runUUID", Err: ErrEmptyUUID}
	}

	prefix := experimentPrefix(runUUID)
	var recs []ExperimentRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketExperiments))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketExperiments, Err: ErrBucketNotFound}
		}
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec ExperimentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return &RecordError{Op: "unmarshal experiment", UUID: runUUID, Err: err}
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func experimentKey(runUUID, name string) []byte {
	return append(experimentPrefix(runUUID), []byte(name)...)
}

func experimentPrefix(runUUID string) []byte {
	return []byte(runUUID + "\x00")
}

func sortRunsByStartDesc(recs []RunRecord) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].StartTime.After(recs[j-1].StartTime); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}
