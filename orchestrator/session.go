// Package orchestrator drives a generic testbed through copydown, build,
// and copyup for the control build and each requested experiment, exposed
// as a cooperative coroutine (Begin/Build/End) so that the names and
// specs of later builds can be decided lazily -- needed by the
// auto-bisector, which only learns which variation to probe next after
// seeing the previous result.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reprotest/buildplan"
	"reprotest/builddb"
	"reprotest/log"
	"reprotest/shellast"
	"reprotest/shellquote"
	"reprotest/store"
	"reprotest/testbed"
	"reprotest/varspec"
	"reprotest/variation"
)

// PlanError reports a rejected build request: a duplicate name, or a spec
// with an unresolvable dynamic default. Surfaced before any testbed verb
// runs for that build.
type PlanError struct {
	Name string
	Err  error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("planning build %q: %v", e.Name, e.Err)
}

func (e *PlanError) Unwrap() error { return e.Err }

// Config holds everything a Session needs to drive one reprotest
// invocation, gathered once up front by the CLI layer.
type Config struct {
	BuildCommand    string
	SourceRoot      string
	ArtifactPattern string
	Env             map[string]string
	UserGroups      []buildplan.UserGroup
	Verbosity       int
	NoCleanOnError  bool
	TestbedInit     string // shell snippet run once per testbed lifetime

	Driver testbed.Driver
	Store  *store.Layout
	DB     *builddb.DB
	Logger *log.Logger
}

// Session is the explicit state object standing in for a coroutine:
// Begin, repeated Build, then End, matching the lifecycle in
// buildplan.Context's callers and the auto-bisector's probing loop.
type Session struct {
	cfg Config

	scratch         string
	runUUID         string
	artifactPattern string // sanitized, space-joined, safe for sh -ec
	sourceDateEpoch int64
	testbedInitDone bool
	seenNames       map[string]bool
	controlDist     string
}

// Begin sanitizes the artifact pattern, starts the testbed, and opens its
// scratch directory; cfg.SourceRoot is used as given. Once Begin has
// succeeded, the caller must call End on every exit path, successful or
// not.
func Begin(ctx context.Context, cfg Config) (*Session, error) {
	pattern, err := shellquote.SanitizeGlobs(cfg.ArtifactPattern)
	if err != nil {
		return nil, err
	}

	if err := cfg.Driver.Start(ctx); err != nil {
		return nil, &testbed.Error{Verb: "start", Err: err}
	}
	scratch, err := cfg.Driver.Open(ctx)
	if err != nil {
		cfg.Driver.Stop(ctx)
		return nil, &testbed.Error{Verb: "open", Err: err}
	}

	runUUID := uuid.NewString()
	if cfg.DB != nil {
		cfg.DB.StartRun(&builddb.RunRecord{
			UUID:      runUUID,
			Command:   cfg.BuildCommand,
			StartTime: time.Now(),
			StorePath: cfg.Store.Root,
		})
	}

	return &Session{
		cfg:             cfg,
		scratch:         scratch,
		runUUID:         runUUID,
		artifactPattern: pattern,
		sourceDateEpoch: buildplan.GuessSourceDateEpoch(cfg.SourceRoot),
		seenNames:       make(map[string]bool),
	}, nil
}

// Build composes and runs one build (the control, or a named experiment),
// copies its artifacts into the store, and returns the host-side
// directory those artifacts landed in.
func (s *Session) Build(ctx context.Context, name string, spec *varspec.Spec) (string, error) {
	if s.seenNames[name] {
		return "", &PlanError{Name: name, Err: fmt.Errorf("duplicate build name")}
	}
	s.seenNames[name] = true

	resolved, err := spec.ApplyDynamicDefaults(s.sourceDateEpoch)
	if err != nil {
		return "", &PlanError{Name: name, Err: err}
	}
	if err := variation.CheckConflicts(resolved); err != nil {
		return "", &PlanError{Name: name, Err: err}
	}

	if s.cfg.Logger != nil {
		s.cfg.Logger.BuildStarted(name)
	}
	start := time.Now()

	bctx := &buildplan.Context{
		TestbedRoot:     s.scratch,
		LocalDistRoot:   s.cfg.Store.Root,
		LocalSrc:        s.cfg.SourceRoot,
		BuildName:       name,
		Verbosity:       s.cfg.Verbosity,
		UserGroups:      s.cfg.UserGroups,
		DefaultFaketime: s.sourceDateEpoch,
	}

	build := ComposeBuild(bctx, loggerAdapter{s.cfg.Logger}, resolved, s.cfg.BuildCommand, s.cfg.Env)

	if !s.testbedInitDone && s.cfg.TestbedInit != "" {
		if _, err := s.cfg.Driver.CheckExec(ctx, []string{"sh", "-ec", s.cfg.TestbedInit}, nil, testbed.KindShort); err != nil {
			return "", &testbed.Error{Verb: "testbed_init", Err: err}
		}
		s.testbedInitDone = true
	}

	if err := s.cfg.Driver.Copydown(ctx, s.cfg.SourceRoot+string(filepath.Separator), bctx.TestbedSrc()); err != nil {
		return "", &testbed.Error{Verb: "copydown", Err: err}
	}

	// Remove any preexisting artifact, in case the build script doesn't
	// overwrite it, e.g. like how make(1) sometimes works.
	rmArtifacts := fmt.Sprintf(`cd "%s" && rm -rf %s`, bctx.TestbedSrc(), s.artifactPattern)
	if _, err := s.cfg.Driver.CheckExec(ctx, []string{"sh", "-ec", rmArtifacts}, nil, testbed.KindShort); err != nil {
		return "", &testbed.Error{Verb: "rm-artifacts", Err: err}
	}

	var blog *log.BuildLogger
	if s.cfg.Logger != nil {
		if bl, err := s.cfg.Logger.OpenBuildLog(name); err == nil {
			blog = bl
			blog.WriteHeader()
			defer blog.Close()
		}
	}

	script := build.ToScript()
	res, err := s.cfg.Driver.Execute(ctx, []string{"sh", "-ec", script}, build.Env, testbed.KindBuild)
	if blog != nil {
		blog.Write([]byte(res.Stdout))
		blog.Write([]byte(res.Stderr))
	}
	if err != nil {
		if blog != nil {
			blog.WriteFailure(time.Since(start), err.Error())
		}
		s.cfg.Driver.Bomb(fmt.Sprintf("build %q failed to execute: %v", name, err), testbed.KindBuild)
		return "", &testbed.Error{Verb: "execute", Err: err}
	}
	if res.ExitCode != 0 {
		if blog != nil {
			blog.WriteFailure(time.Since(start), fmt.Sprintf("exit code %d", res.ExitCode))
		}
		s.cfg.Driver.Bomb(fmt.Sprintf("build %q exited %d", name, res.ExitCode), testbed.KindBuild)
		return "", &testbed.BuildFailure{BuildName: name, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	if blog != nil {
		blog.WriteSuccess(time.Since(start))
	}

	// Collect the matching artifacts into the per-build dist directory.
	// By now cleanup has run, so the tree is back at its original path.
	distBase := filepath.Join(bctx.TestbedDist(), store.SourceRootDir)
	collect := fmt.Sprintf("mkdir -p \"%s\"\ncd \"%s\" && cp --parents -a -t \"%s\" %s\n",
		distBase, bctx.TestbedSrc(), distBase, s.artifactPattern)
	if _, err := s.cfg.Driver.CheckExec(ctx, []string{"sh", "-ec", collect}, nil, testbed.KindShort); err != nil {
		return "", &testbed.Error{Verb: "collect-artifacts", Err: err}
	}
	// Normalize directory mtimes to the epoch so faketime's per-build clock
	// offsets don't show up as tree-metadata diffs.
	touch := fmt.Sprintf(`cd "%s" && touch -d@0 . .. %s`, distBase, s.artifactPattern)
	if _, err := s.cfg.Driver.CheckExec(ctx, []string{"sh", "-ec", touch}, nil, testbed.KindShort); err != nil {
		return "", &testbed.Error{Verb: "touch-artifacts", Err: err}
	}

	dist := s.cfg.Store.BuildDir(name)
	if err := os.MkdirAll(dist, 0o755); err != nil {
		return "", err
	}
	if err := s.cfg.Driver.Copyup(ctx, bctx.TestbedDist(), dist+string(filepath.Separator)); err != nil {
		return "", &testbed.Error{Verb: "copyup", Err: err}
	}

	if name == store.ControlName() {
		s.controlDist = dist
	}

	if s.cfg.Logger != nil {
		s.cfg.Logger.BuildFinished(name, "success", time.Since(start))
	}
	if s.cfg.DB != nil {
		s.cfg.DB.PutExperiment(&builddb.ExperimentRecord{
			RunUUID:   s.runUUID,
			Name:      name,
			StartTime: start,
			EndTime:   time.Now(),
			Status:    builddb.ExperimentStatusSuccess,
		})
	}
	return dist, nil
}

// ControlDist returns the control build's store directory, the reference
// every experiment's diff is taken against. Empty until a build named
// "control" has completed.
func (s *Session) ControlDist() string { return s.controlDist }

// End releases the testbed and finalizes the run record. It is safe to
// call after a failed Build, and safe to call more than once. A failed
// Begin returns no Session, so there is nothing to End.
func (s *Session) End(ctx context.Context, status, failureMsg string) error {
	var stopErr error
	if s.cfg.NoCleanOnError && status != builddb.RunStatusReproducible && status != builddb.RunStatusUnreproducible {
		// A fatal error occurred and the caller asked to preserve the
		// testbed for postmortem inspection: skip Stop entirely.
	} else {
		stopErr = s.cfg.Driver.Stop(ctx)
	}

	if s.cfg.DB != nil {
		s.cfg.DB.FinishRun(s.runUUID, status, time.Now(), failureMsg)
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(fmt.Sprintf("run %s finished: %s", s.runUUID, status))
	}
	return stopErr
}

// buildPreamble runs inside the innermost wrapper, immediately before the
// user's command: setup phases can't necessarily cd under variations like
// user_group, so the intended CWD and umask travel through the environment
// and are re-applied here.
const buildPreamble = `cd "$REPROTEST_BUILD_PATH"; unset REPROTEST_BUILD_PATH; ` +
	`umask "$REPROTEST_UMASK"; unset REPROTEST_UMASK; `

// ComposeBuild assembles the complete Build for one run: the
// preamble-wrapped user command, the variation plan, and the setup exports
// the preamble reads. Exposed so --dry-run can print exactly the script a
// real run would execute.
func ComposeBuild(bctx *buildplan.Context, logger log.LibraryLogger, spec *varspec.Spec, buildCommand string, env map[string]string) buildplan.Build {
	base := buildplan.FromCommand(buildPreamble+buildCommand, env, bctx.TestbedSrc(), bctx.TestbedAux())
	build := variation.Plan(bctx, logger, spec, base)
	build = build.AppendSetupExecRaw("export", "REPROTEST_BUILD_PATH="+shellast.Quote(build.Tree).Render())
	build = build.AppendSetupExecRaw("export", "REPROTEST_UMASK=$(umask)")
	return build
}

// loggerAdapter lets the *log.Logger run-level logger satisfy
// variation.Transform's log.LibraryLogger parameter without that package
// depending on the heavier run-level Logger type.
type loggerAdapter struct {
	l *log.Logger
}

func (a loggerAdapter) Info(format string, args ...any) {
	if a.l != nil {
		a.l.Info(fmt.Sprintf(format, args...))
	}
}

func (a loggerAdapter) Debug(format string, args ...any) {
	if a.l != nil {
		a.l.Debug(fmt.Sprintf(format, args...))
	}
}

func (a loggerAdapter) Warn(format string, args ...any) {
	if a.l != nil {
		a.l.Info(fmt.Sprintf("WARN: "+format, args...))
	}
}

func (a loggerAdapter) Error(format string, args ...any) {
	if a.l != nil {
		a.l.Error(fmt.Sprintf(format, args...))
	}
}
