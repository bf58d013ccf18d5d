// Package cmd wires reprotest's core packages into a cobra CLI: flag
// parsing and positional-argument disambiguation, config loading, and
// the run loop that drives the builds, diffs the results, and maps the
// verdict to an exit code.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reprotest/bisect"
	"reprotest/builddb"
	"reprotest/buildplan"
	"reprotest/config"
	"reprotest/diffrun"
	"reprotest/log"
	"reprotest/orchestrator"
	"reprotest/presets"
	"reprotest/shellquote"
	"reprotest/store"
	"reprotest/testbed"
	"reprotest/varspec"
	"reprotest/variation"
)

type flags struct {
	buildCommand   string
	sourceRoot     string
	sourcePattern  string
	storeDir       string
	hostDistro     string
	variations     string
	vary           []string
	dontVary       []string
	extraBuild     []string
	autoBuild      bool
	noDiffoscope   bool
	diffoscopeArgs []string
	testbedPre     string
	testbedInit    string
	noCleanOnError bool
	dryRun         bool
	verbosity      int
	verbose        int
	configFile     string

	exitCode int // set by run(); read by Execute once RunE returns nil

	// true if the corresponding flag was given explicitly, so config-file
	// defaults know not to override it
	buildCommandSet, sourceRootSet   bool
	variationsSet, diffoscopeArgsSet bool
}

// NewRootCommand builds reprotest's single cobra command. There are no
// subcommands: every flag and the positional arguments feed into one
// check-for-reproducibility run.
func NewRootCommand() *cobra.Command {
	return newRootCommandWithFlags(&flags{})
}

func newRootCommandWithFlags(f *flags) *cobra.Command {
	root := &cobra.Command{
		Use:   "reprotest [flags] <source_root|build_command> [artifact_pattern] [-- virtual_server_args...]",
		Short: "Build a package twice under varied conditions and diff the results",
		Args:  cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, args []string) error {
			f.buildCommandSet = c.Flags().Changed("build-command")
			f.sourceRootSet = c.Flags().Changed("source-root")
			f.variationsSet = c.Flags().Changed("variations")
			f.diffoscopeArgsSet = c.Flags().Changed("diffoscope-arg")
			return run(c.Context(), f, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fl := root.Flags()
	fl.StringVarP(&f.buildCommand, "build-command", "c", "auto", "build command to execute, or \"auto\" to guess from source_root")
	fl.StringVarP(&f.sourceRoot, "source-root", "s", "", "root of the source tree copied into the testbed (default: \".\")")
	fl.StringVar(&f.sourcePattern, "source-pattern", "", "shell glob restricting which files of source_root are copied down")
	fl.StringVar(&f.storeDir, "store-dir", "", "directory to save build artifacts in; must be empty or nonexistent")
	fl.StringVar(&f.hostDistro, "host-distro", "debian", "distribution flavor the testbed runs, used to select the config-file profile section")
	fl.StringVar(&f.variations, "variations", "+all", "variation spec to test, as a comma-separated token list")
	fl.StringArrayVar(&f.vary, "vary", nil, "appends to --variations instead of replacing it; may be repeated")
	fl.StringArrayVar(&f.dontVary, "dont-vary", nil, "deprecated, equivalent to --vary=-<name>")
	fl.StringArrayVar(&f.extraBuild, "extra-build", nil, "run another experiment with VARIATIONS on top of --variations/--vary; repeatable")
	fl.BoolVar(&f.autoBuild, "auto-build", false, "auto-bisect which variation breaks reproducibility instead of a fixed build list")
	fl.BoolVar(&f.noDiffoscope, "no-diffoscope", false, "use diff -ru instead of diffoscope")
	fl.StringArrayVar(&f.diffoscopeArgs, "diffoscope-arg", []string{"--exclude-directory-metadata"}, "extra argument forwarded to diffoscope; repeatable")
	fl.StringVar(&f.testbedPre, "testbed-pre", "", "shell commands run on the host before the testbed starts")
	fl.StringVar(&f.testbedInit, "testbed-init", "", "shell commands run inside the testbed once, before any variation")
	fl.BoolVar(&f.noCleanOnError, "no-clean-on-error", false, "don't stop the testbed if a fatal error occurred")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print the composed build scripts instead of running them")
	fl.IntVar(&f.verbosity, "verbosity", 0, "verbosity level")
	fl.CountVarP(&f.verbose, "verbose", "v", "like --verbosity, but repeatable without an argument")
	fl.StringVarP(&f.configFile, "config-file", "f", "", "configuration file (or its containing directory) to load")

	return root
}

// Execute runs the root command against os.Args, returning the process
// exit code rather than calling os.Exit itself, so main can defer cleanup.
func Execute() int {
	f := &flags{}
	root := newRootCommandWithFlags(f)
	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}
	// f.exitCode carries the verdict (0 reproducible, 1 differences) out
	// of run, since a successful cobra invocation (err == nil) can still
	// mean "differences detected".
	return f.exitCode
}

func run(ctx context.Context, f *flags, args []string) error {
	if len(f.extraBuild) > 0 && f.autoBuild {
		return &UsageError{Msg: "--extra-build and --auto-build are mutually exclusive"}
	}

	var artifactPattern string
	var virtualServerArgs []string
	switch len(args) {
	case 0:
	case 1:
		if err := applyLeading(f, args[0]); err != nil {
			return err
		}
	default:
		if err := applyLeading(f, args[0]); err != nil {
			return err
		}
		artifactPattern = args[1]
		virtualServerArgs = args[2:]
	}

	if f.sourceRoot == "" {
		f.sourceRoot = "."
	}
	if info, err := os.Stat(f.sourceRoot); err == nil && !info.IsDir() {
		f.sourceRoot = filepath.Dir(f.sourceRoot)
	}

	configDir := ""
	if f.configFile != "" {
		if info, err := os.Stat(f.configFile); err == nil && info.IsDir() {
			configDir = f.configFile
		} else {
			configDir = filepath.Dir(f.configFile)
		}
	}
	cfg, err := config.LoadConfig(configDir, f.hostDistro)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Config-file values fill in for flags the user didn't give.
	if !f.variationsSet && cfg.DefaultVariations != "" {
		f.variations = cfg.DefaultVariations
	}
	if !f.diffoscopeArgsSet && len(cfg.DiffoscopeArgs) > 0 {
		f.diffoscopeArgs = cfg.DiffoscopeArgs
	}

	backend := cfg.DefaultTestbed
	if backend == "" {
		backend = "null"
	}
	if len(virtualServerArgs) > 0 {
		backend = virtualServerArgs[0]
	}

	if f.buildCommand == "" || f.buildCommand == "auto" {
		p, err := presets.Detect(f.sourceRoot, backend)
		if err != nil {
			return &UsageError{Msg: "could not auto-detect a build command", Err: err}
		}
		f.buildCommand = p.BuildCommand
		if artifactPattern == "" {
			artifactPattern = p.ArtifactPattern
		}
		if f.sourcePattern == "" {
			f.sourcePattern = p.SourcePattern
		}
		if f.testbedInit == "" {
			f.testbedInit = p.TestbedInit
		}
	}
	if artifactPattern == "" {
		return &UsageError{Msg: "no artifact_pattern given and none could be auto-detected"}
	}
	if _, err := shellquote.SanitizeGlobs(artifactPattern); err != nil {
		return &UsageError{Msg: "invalid artifact_pattern", Err: err}
	}
	if f.sourcePattern != "" {
		sp, err := shellquote.SanitizeGlobs(f.sourcePattern)
		if err != nil {
			return &UsageError{Msg: "invalid --source-pattern", Err: err}
		}
		f.sourcePattern = sp
	}

	verbosity := f.verbosity
	if f.verbose > verbosity {
		verbosity = f.verbose
	}
	if cfg.Debug && verbosity == 0 {
		verbosity = 1
	}

	validNames := variation.Names()
	specTokens := []string{f.variations}
	specTokens = append(specTokens, f.vary...)
	for _, name := range f.dontVary {
		specTokens = append(specTokens, "-"+name)
	}
	fullSpec, err := varspec.Parse(strings.Join(specTokens, " "), validNames)
	if err != nil {
		return &UsageError{Msg: "invalid --variations/--vary spec", Err: err}
	}
	// Reject unresolvable dynamic defaults and conflicting variations in
	// every requested experiment spec before the testbed is started.
	for i, extra := range append([]string{""}, f.extraBuild...) {
		spec, err := varspec.Parse(strings.Join(append(append([]string{}, specTokens...), extra), " "), validNames)
		if err != nil {
			return &UsageError{Msg: "invalid --extra-build spec", Err: err}
		}
		resolved, err := spec.ApplyDynamicDefaults(0)
		if err == nil {
			err = variation.CheckConflicts(resolved)
		}
		if err != nil {
			return &orchestrator.PlanError{Name: store.ExperimentName(i + 1), Err: err}
		}
	}

	if f.testbedPre != "" || f.sourcePattern != "" {
		newRoot, err := runTestbedPre(f.sourceRoot, f.sourcePattern, f.testbedPre)
		if err != nil {
			return fmt.Errorf("testbed-pre: %w", err)
		}
		f.sourceRoot = newRoot
	}

	if f.dryRun {
		return dryRun(f, artifactPattern, fullSpec, validNames)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger, err := log.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer logger.Close()

	buildDB, err := builddb.OpenDB(filepath.Join(cfg.StorePath, "builds.db"))
	if err != nil {
		return fmt.Errorf("opening build database: %w", err)
	}
	defer buildDB.Close()

	layoutRoot := f.storeDir
	ephemeral := layoutRoot == ""
	if ephemeral {
		tmp, err := os.MkdirTemp("", "reprotest-store-")
		if err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
		layoutRoot = tmp
	}
	layout, err := store.NewLayout(layoutRoot)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	driver, err := testbed.New(backend)
	if err != nil {
		return &UsageError{Msg: "unknown virtual server", Err: err}
	}

	sessCfg := orchestrator.Config{
		BuildCommand:    f.buildCommand,
		SourceRoot:      f.sourceRoot,
		ArtifactPattern: artifactPattern,
		Env:             environMap(),
		Verbosity:       verbosity,
		NoCleanOnError:  f.noCleanOnError,
		TestbedInit:     f.testbedInit,
		Driver:          driver,
		Store:           layout,
		DB:              buildDB,
		Logger:          logger,
	}

	sess, err := orchestrator.Begin(ctx, sessCfg)
	if err != nil {
		return fmt.Errorf("starting testbed: %w", err)
	}

	status := builddb.RunStatusFailed
	failureMsg := ""
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived signal %v, stopping testbed...\n", sig)
		sess.End(ctx, builddb.RunStatusAborted, "interrupted")
		buildDB.Close()
		os.Exit(125)
	}()
	defer func() { sess.End(ctx, status, failureMsg) }()

	controlDist, err := sess.Build(ctx, store.ControlName(), varspec.New())
	if err != nil {
		failureMsg = err.Error()
		return fmt.Errorf("control build: %w", err)
	}

	useDiffoscope := !f.noDiffoscope

	if f.autoBuild {
		probe := 0
		oracle := func(name string, spec *varspec.Spec) (bool, error) {
			probe++
			dist, err := sess.Build(ctx, store.ExperimentName(probe), spec)
			if err != nil {
				// A failed probe build means "not reproducible under this
				// candidate"; keep bisecting with the other variations.
				var bf *testbed.BuildFailure
				if errors.As(err, &bf) {
					return false, nil
				}
				return false, err
			}
			res, err := diffrun.Run(controlDist, dist, useDiffoscope, f.diffoscopeArgs, "")
			if err != nil {
				return false, err
			}
			return res.Identical, nil
		}
		res, err := bisect.Run(validNames, fullSpec, oracle)
		if err != nil {
			failureMsg = err.Error()
			return fmt.Errorf("auto-build: %w", err)
		}
		if !res.ControlReproducible {
			status = builddb.RunStatusUnreproducible
			fmt.Println("not reproducible even under fully controlled conditions")
			f.exitCode = 1
			return nil
		}
		if res.FullyReproducible {
			status = builddb.RunStatusReproducible
			fmt.Println("reproducible, even varying all tested conditions")
			f.exitCode = 0
			return nil
		}
		status = builddb.RunStatusUnreproducible
		fmt.Printf("unreproducible; variations responsible: %s\n", strings.Join(res.Witnesses, ", "))
		f.exitCode = 1
		return nil
	}

	experiments := [][]string{specTokens}
	for _, extra := range f.extraBuild {
		experiments = append(experiments, append(append([]string{}, specTokens...), extra))
	}

	total := len(experiments)
	reproducible := 0
	wroteDiffoscope := false
	var controlFiles []string

	for i, tokens := range experiments {
		spec, err := varspec.Parse(strings.Join(tokens, " "), validNames)
		if err != nil {
			failureMsg = err.Error()
			return &UsageError{Msg: "invalid --extra-build spec", Err: err}
		}
		name := store.ExperimentName(i + 1)
		dist, err := sess.Build(ctx, name, spec)
		if err != nil {
			failureMsg = err.Error()
			return fmt.Errorf("experiment %s: %w", name, err)
		}

		res, err := diffrun.Run(controlDist, dist, useDiffoscope, f.diffoscopeArgs, "")
		if err != nil {
			failureMsg = err.Error()
			return fmt.Errorf("diff %s: %w", name, err)
		}
		logger.Diff(store.ControlName(), name, res.Identical)

		if res.Identical {
			reproducible++
			if err := layout.ReplaceWithSymlink(name); err != nil {
				return fmt.Errorf("replacing %s with symlink: %w", name, err)
			}
		} else if !wroteDiffoscope {
			layout.WriteDiffoscopeOutput([]byte(res.Output))
			wroteDiffoscope = true
		}
	}

	switch {
	case reproducible == total:
		status = builddb.RunStatusReproducible
		controlFiles, err = listRelativeFiles(layout.SourceRoot(store.ControlName()))
		if err != nil {
			return fmt.Errorf("hashing artifacts: %w", err)
		}
		if err := layout.WriteSHA256Sums(controlFiles); err != nil {
			return fmt.Errorf("writing SHA256SUMS: %w", err)
		}
		fmt.Printf("no differences in %s\n", artifactPattern)
		if f.variations != "+all" || len(f.vary) > 0 {
			fmt.Println("note: this run did not test +all variations; a full run may still find differences")
		}
		f.exitCode = 0
	case reproducible == 0:
		status = builddb.RunStatusUnreproducible
		fmt.Printf("differences found in %s\n", artifactPattern)
		f.exitCode = 1
	default:
		status = builddb.RunStatusUnreproducible
		fmt.Printf("partially reproducible: %d of %d experiments matched control\n", reproducible, total)
		f.exitCode = 1
	}

	logger.WriteSummary(total+1, f.exitCode == 0, 0)

	if ephemeral && f.exitCode == 0 && !cfg.KeepStore {
		os.RemoveAll(layoutRoot)
	}
	return nil
}

// applyLeading resolves the single ambiguous positional argument against
// whichever of -c/-s were already given explicitly. If both -c and -s
// are given, a leading positional is a syntax error (exit 2); if exactly
// one is given, the positional is treated as the other.
func applyLeading(f *flags, arg string) error {
	sr, bc := classifyLeading(arg)
	if f.buildCommandSet && f.sourceRootSet {
		return &UsageError{Msg: "a positional source_root/build_command argument was given, but both -c and -s were also set"}
	}
	switch {
	case sr != "":
		if f.sourceRootSet {
			// looks like a source root but -s already pins one; treat
			// the literal as a build_command instead, matching "if one
			// of -c or -s is given, then this is treated as the other".
			f.buildCommand = arg
		} else {
			f.sourceRoot = sr
		}
	case bc != "":
		if f.buildCommandSet {
			f.sourceRoot = arg
		} else {
			f.buildCommand = bc
		}
	}
	return nil
}

// runTestbedPre copies sourcePattern's matches out of sourceRoot into a
// scratch directory and runs the --testbed-pre script there, returning
// the scratch directory as the new effective source root. Runs on the
// host, before the testbed is even started.
func runTestbedPre(sourceRoot, sourcePattern, script string) (string, error) {
	scratch, err := os.MkdirTemp("", "reprotest-testbed-pre-")
	if err != nil {
		return "", err
	}
	pattern := sourcePattern
	if pattern == "" {
		pattern = "."
	}
	copyScript := fmt.Sprintf("mkdir -p %s\ncd %s && cp --parents -a -t %s %s\n",
		shEsc(scratch), shEsc(sourceRoot), shEsc(scratch), pattern)
	cp := exec.Command("sh", "-ec", copyScript)
	if out, err := cp.CombinedOutput(); err != nil {
		return "", fmt.Errorf("copying source tree: %w: %s", err, out)
	}
	if script != "" {
		run := exec.Command("sh", "-ec", script)
		run.Dir = scratch
		if out, err := run.CombinedOutput(); err != nil {
			return "", fmt.Errorf("running testbed-pre: %w: %s", err, out)
		}
	}
	return scratch, nil
}

func shEsc(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

func listRelativeFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

func dryRun(f *flags, artifactPattern string, spec *varspec.Spec, validNames []string) error {
	sourceDateEpoch := buildplan.GuessSourceDateEpoch(f.sourceRoot)
	fmt.Printf("build_command: %s\n", f.buildCommand)
	fmt.Printf("source_root:   %s\n", f.sourceRoot)
	fmt.Printf("artifact_pattern: %s\n\n", artifactPattern)

	for _, name := range []string{"control", "experiment-1"} {
		s := varspec.New()
		if name != "control" {
			s = spec
		}
		resolved, err := s.ApplyDynamicDefaults(sourceDateEpoch)
		if err != nil {
			return &UsageError{Msg: "invalid variation spec", Err: err}
		}
		bctx := &buildplan.Context{
			TestbedRoot:     filepath.Join(os.TempDir(), "reprotest-dry-run"),
			LocalDistRoot:   os.TempDir(),
			LocalSrc:        f.sourceRoot,
			BuildName:       name,
			Verbosity:       f.verbosity,
			DefaultFaketime: sourceDateEpoch,
		}
		built := orchestrator.ComposeBuild(bctx, log.StdoutLogger{}, resolved, f.buildCommand, environMap())
		fmt.Printf("# %s\n%s\n", name, built.ToScript())
	}
	f.exitCode = 0
	return nil
}

func exitCodeFor(err error) int {
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprintln(os.Stderr, "usage error:", err)
		return 2
	}
	var diffErr *diffrun.Error
	if errors.As(err, &diffErr) {
		fmt.Fprintln(os.Stderr, "diff tool failed:", err)
		return 125
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 125
}
