package variation

import (
	"strings"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/varspec"
)

// defaultEnvironmentTemplates is the variation's default configuration when
// enabled without field edits: grounded on the original's unconditional
// `CAPTURE_ENVIRONMENT=i_capture_the_environment`.
var defaultEnvironmentTemplates = []string{"CAPTURE_ENVIRONMENT=i_capture_the_environment"}

// environmentTransform applies env-var templates of the form "NAME"
// (capture -- leave the inherited value alone), "NAME=VALUE" (set), or
// "NAME=" (unset).
func environmentTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b
	}
	for _, tmpl := range e.ResolveSet("set", defaultEnvironmentTemplates) {
		name, value, found := strings.Cut(tmpl, "=")
		if !found {
			continue // capture: inherited value stands.
		}
		if value == "" {
			b = b.UnsetEnv(name)
		} else {
			b = b.AddEnv(name, value)
		}
	}
	return b
}
