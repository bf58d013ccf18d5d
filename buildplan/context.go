package buildplan

import (
	"os"
	"path/filepath"
)

// Context is the per-build scratch identity shared by the planner, the
// variation registry, and the orchestrator: where this build's source tree
// and artifacts live inside the testbed, and where its artifacts land once
// copied back to the host.
type Context struct {
	TestbedRoot   string // scratch root inside the testbed
	LocalDistRoot string // store root on the host for copied-out artifacts
	LocalSrc      string // host path to the source tree to copy down
	BuildName     string // "control" or "experiment-<i>"

	// Verbosity and user/group pool are consulted by variation transforms
	// (fileordering's -q flag, user_group's candidate pool).
	Verbosity       int
	UserGroups      []UserGroup
	DefaultFaketime int64
}

// UserGroup names a user:group pair available to the user_group variation.
type UserGroup struct {
	User  string
	Group string
}

// TestbedSrc is the in-testbed path this build's source tree is copied to.
func (c Context) TestbedSrc() string {
	return withTrailingSlash(filepath.Join(c.TestbedRoot, "build-"+c.BuildName))
}

// TestbedDist is the in-testbed path this build's artifacts are collected
// into before copyup.
func (c Context) TestbedDist() string {
	return withTrailingSlash(filepath.Join(c.TestbedRoot, "artifacts-"+c.BuildName))
}

// TestbedAux is the in-testbed scratch directory reserved for mounts, shim
// binaries, and namespace pin files created by the variation registry.
func (c Context) TestbedAux() string {
	return withTrailingSlash(filepath.Join(c.TestbedRoot, "aux-"+c.BuildName))
}

// LocalDist is the host path this build's artifacts are copied up into.
func (c Context) LocalDist() string {
	return filepath.Join(c.LocalDistRoot, c.BuildName)
}

// GuessSourceDateEpoch walks sourceRoot and returns the latest modification
// time of any regular file under it, as a Unix timestamp -- the conventional
// SOURCE_DATE_EPOCH value the "time" variation's auto_faketimes hook
// resolves to. Unreadable entries are skipped rather than failing the walk,
// since a permission hiccup under the tree shouldn't abort planning.
func GuessSourceDateEpoch(sourceRoot string) int64 {
	var latest int64
	filepath.Walk(sourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if mt := info.ModTime().Unix(); mt > latest {
			latest = mt
		}
		return nil
	})
	return latest
}
