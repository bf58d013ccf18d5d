package variation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/varspec"
)

func newSpec(t *testing.T, enable ...string) *varspec.Spec {
	t.Helper()
	spec := varspec.New()
	for _, name := range enable {
		spec.SetEnabled(name, true)
	}
	return spec
}

func TestNamesMatchesFixedOrder(t *testing.T) {
	want := []string{
		"environment", "build_path", "user_group", "fileordering",
		"domain_host", "home", "kernel", "locales", "exec_path",
		"time", "timezone", "umask",
	}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPlanControlPinsFixedValues(t *testing.T) {
	ctx := &buildplan.Context{Verbosity: 0, DefaultFaketime: 1700000000}
	base := buildplan.FromCommand("make", nil, "/src/", "/aux/")
	spec := varspec.New()

	control := Plan(ctx, log.NoOpLogger{}, spec, base)
	control2 := Plan(ctx, log.NoOpLogger{}, spec, base)
	if control.ToScript() != control2.ToScript() {
		t.Errorf("control plan is not deterministic across runs")
	}

	// The control pins every factor to its fixed value: the tree moves to
	// the constant path, HOME follows it, TZ and umask get the control
	// settings.
	if control.Tree != "/const_build_path/" {
		t.Errorf("control Tree = %q, want /const_build_path/", control.Tree)
	}
	if control.Env["HOME"] != control.Tree {
		t.Errorf("control HOME = %q, want tree path %q", control.Env["HOME"], control.Tree)
	}
	if control.Env["TZ"] != "GMT+12" {
		t.Errorf("control TZ = %q, want GMT+12", control.Env["TZ"])
	}
	if !strings.Contains(control.ToScript(), "umask '0022'") {
		t.Errorf("control script missing umask 0022:\n%s", control.ToScript())
	}
}

func TestPlanExperimentVariesEnabledFields(t *testing.T) {
	ctx := &buildplan.Context{Verbosity: 0}
	base := buildplan.FromCommand("make", nil, "/src/", "/aux/")

	spec, err := varspec.Parse("+home,+timezone,+umask", Names())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	experiment := Plan(ctx, log.NoOpLogger{}, spec, base)

	if experiment.Env["HOME"] != "/nonexistent/second-build" {
		t.Errorf("experiment HOME = %q, want /nonexistent/second-build", experiment.Env["HOME"])
	}
	if experiment.Env["TZ"] != "GMT-14" {
		t.Errorf("experiment TZ = %q, want GMT-14", experiment.Env["TZ"])
	}
	if !strings.Contains(experiment.ToScript(), "umask '0002'") {
		t.Errorf("experiment script missing umask 0002:\n%s", experiment.ToScript())
	}
}

func TestPlanControlMovePairsRestoringCleanup(t *testing.T) {
	ctx := &buildplan.Context{}
	base := buildplan.FromCommand("make", nil, "/src/", "/aux/")

	out := Plan(ctx, log.NoOpLogger{}, varspec.New(), base)
	script := out.ToScript()
	if !strings.Contains(script, "mv '/src' '/const_build_path'") {
		t.Errorf("control setup missing tree move:\n%s", script)
	}
	if !strings.Contains(script, "mv '/const_build_path' '/src'") {
		t.Errorf("control cleanup missing restoring move:\n%s", script)
	}
}

func TestCheckConflictsRejectsUnprivilegedNamespaceWithUserGroup(t *testing.T) {
	spec, err := varspec.Parse("domain_host.use_sudo=false user_group.available+=builder:builder", Names())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := CheckConflicts(spec); err == nil {
		t.Error("expected a conflict for use_sudo=false with a user_group pool")
	}

	ok, err := varspec.Parse("+domain_host +user_group", Names())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := CheckConflicts(ok); err != nil {
		t.Errorf("sudo-backed domain_host with user_group should be fine: %v", err)
	}
}

func TestUserGroupVariationWarnsWithoutPool(t *testing.T) {
	ctx := &buildplan.Context{}
	base := buildplan.FromCommand("make", nil, "/src/", "/aux/")
	spec := newSpec(t, "user_group")

	logger := log.NewMemoryLogger()
	out := userGroupTransform(ctx, logger, spec.Entry("user_group"), true, base)
	if out.ToScript() != base.ToScript() {
		t.Errorf("user_group with an empty pool should be a no-op")
	}
	if !logger.HasMessageWithLevel("WARN", "ignoring user_group variation") {
		t.Errorf("user_group with an empty pool should warn, got:\n%s", logger.String())
	}
}

func TestKernelVariationWrapsBuildCommand(t *testing.T) {
	ctx := &buildplan.Context{}
	base := buildplan.FromCommand("make", nil, "/src/", "/aux/")

	out := kernelTransform(ctx, log.NoOpLogger{}, nil, true, base)
	if !toolAvailable("linux32") {
		if out.BuildCommand.Render() != base.BuildCommand.Render() {
			t.Errorf("kernel variation should no-op when linux32 is missing")
		}
		return
	}
	if !strings.Contains(out.BuildCommand.Render(), "linux32") {
		t.Errorf("BuildCommand = %q, want linux32 wrapper", out.BuildCommand.Render())
	}
}

func TestTimeVariationSetsNoFakeStat(t *testing.T) {
	if !toolAvailable("faketime") {
		t.Skip("faketime not installed")
	}
	ctx := &buildplan.Context{DefaultFaketime: 1700000000}
	base := buildplan.FromCommand("make", nil, "/src/", "/aux/")

	control := timeTransform(ctx, log.NoOpLogger{}, nil, false, base)
	if control.BuildCommand.Render() != base.BuildCommand.Render() {
		t.Errorf("the control build should run on the real clock")
	}

	out := timeTransform(ctx, log.NoOpLogger{}, nil, true, base)
	if out.Env["NO_FAKE_STAT"] != "1" {
		t.Errorf("NO_FAKE_STAT = %q, want 1", out.Env["NO_FAKE_STAT"])
	}
	if !strings.Contains(out.BuildCommand.Render(), "faketime") {
		t.Errorf("BuildCommand = %q, want faketime wrapper", out.BuildCommand.Render())
	}
}

func TestResolveFaketimeSpec(t *testing.T) {
	if got := resolveFaketimeSpec("@1500000000"); got != "@1500000000" {
		t.Errorf("an old absolute timestamp should be used directly, got %q", got)
	}
	recent := time.Now().Unix() - 60
	if got := resolveFaketimeSpec(fmt.Sprintf("@%d", recent)); got != farFutureSpec {
		t.Errorf("a recent absolute timestamp should fall back to %q, got %q", farFutureSpec, got)
	}
	if got := resolveFaketimeSpec("+1days"); got != "+1days" {
		t.Errorf("a relative spec should pass through, got %q", got)
	}
}
