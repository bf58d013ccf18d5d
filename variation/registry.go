// Package variation holds the fixed, ordered table of the twelve named
// variation transforms: environment, build_path, user_group, fileordering,
// domain_host, home, kernel, locales, exec_path, time, timezone, umask. Each
// is a pure function from a Build (and whether this build should vary it)
// to a new Build; Plan walks the table in this fixed order to compose the
// control build or an experiment.
package variation

import (
	"fmt"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/varspec"
)

// Transform is one named variation. e is the entry's field-level
// configuration carried in the spec (nil if the variation was never
// mentioned), and vary reports whether this build should apply the varied
// configuration rather than the fixed/control one.
type Transform func(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build

type registryEntry struct {
	Name string
	Fn   Transform
}

// registry lists the twelve variations in their fixed composition order.
// Wrapper commands nest from the inside out as the table is walked, so
// the first entry here is the innermost wrapper around build_command and
// the last is the outermost.
var registry = []registryEntry{
	{"environment", environmentTransform},
	{"build_path", buildPathTransform},
	{"user_group", userGroupTransform},
	{"fileordering", fileorderingTransform},
	{"domain_host", domainHostTransform},
	{"home", homeTransform},
	{"kernel", kernelTransform},
	{"locales", localesTransform},
	{"exec_path", execPathTransform},
	{"time", timeTransform},
	{"timezone", timezoneTransform},
	{"umask", umaskTransform},
}

// Names returns the registered variation names in their fixed order --
// the valid-name set varspec.Parse validates tokens against, and the
// expansion set for the "all" alias.
func Names() []string {
	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = e.Name
	}
	return names
}

// CheckConflicts rejects variation combinations that cannot both work:
// an unprivileged UTS namespace (domain_host.use_sudo=false) cannot
// re-enter as another user, so it conflicts with a configured user_group
// pool. Callers surface this before any testbed verb runs.
func CheckConflicts(spec *varspec.Spec) error {
	if !spec.Enabled("domain_host") || !spec.Enabled("user_group") {
		return nil
	}
	dh := spec.Entry("domain_host")
	if dh.ResolveScalar("use_sudo", "true") != "false" {
		return nil
	}
	if len(spec.Entry("user_group").ResolveSet("available", nil)) > 0 {
		return fmt.Errorf("domain_host.use_sudo=false cannot be combined with user_group: unprivileged namespaces cannot re-enter as another user")
	}
	return nil
}

// Plan applies every registered variation, in order, to base. Called once
// per build: spec is empty for the control build, populated for an
// experiment.
func Plan(ctx *buildplan.Context, logger log.LibraryLogger, spec *varspec.Spec, base buildplan.Build) buildplan.Build {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	b := base
	for _, re := range registry {
		vary := spec.Enabled(re.Name)
		b = re.Fn(ctx, logger, spec.Entry(re.Name), vary, b)
	}
	return b
}
