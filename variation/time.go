package variation

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/shellast"
	"reprotest/varspec"
)

// farFutureThreshold is the fixed offset (373 days, 7 hours, 13 minutes,
// a deliberately odd interval so a "far future" faketime doesn't land on a
// round number) in seconds. An absolute timestamp is only safe to hand to
// faketime when it's already further in the past than this offset reaches.
const farFutureThreshold = 32253180

const farFutureSpec = "+373days+7hours+13minutes"

// timeTransform wraps the experiment's build command in faketime(1),
// pinning the system clock the build observes. The control build runs on
// the real clock. Requires faketime on PATH.
func timeTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b
	}
	if !toolAvailable("faketime") {
		logger.Warn("ignoring time variation: faketime not found in PATH")
		return b
	}

	var spec string
	choices := e.ResolveSet("faketimes", nil)
	if len(choices) == 0 {
		spec = faketimeSpecFor(ctx.DefaultFaketime)
	} else {
		spec = resolveFaketimeSpec(choices[rand.Intn(len(choices))])
	}

	// faketime also rewrites stat(2) timestamps unless told not to, which
	// really messes with make(1) and other mtime-driven build systems.
	b = b.AddEnv("NO_FAKE_STAT", "1")
	return b.AppendToBuildCommand(shellast.NewCommand("faketime", spec))
}

// faketimeSpecFor pins to lastmt if it's already older than the fixed
// offset reaches, otherwise projects forward by the offset.
func faketimeSpecFor(lastmt int64) string {
	if lastmt > 0 && time.Now().Unix()-lastmt > farFutureThreshold {
		return fmt.Sprintf("@%d", lastmt)
	}
	return farFutureSpec
}

// resolveFaketimeSpec applies the same safety rule to a configured pick:
// an absolute "@unix" entry is used directly only when far enough in the
// past; anything else falls back to the relative far-future offset.
// Non-absolute entries are passed to faketime as written.
func resolveFaketimeSpec(pick string) string {
	if !strings.HasPrefix(pick, "@") {
		return pick
	}
	sec, err := strconv.ParseInt(pick[1:], 10, 64)
	if err != nil || time.Now().Unix()-sec <= farFutureThreshold {
		return farFutureSpec
	}
	return pick
}
