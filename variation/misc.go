package variation

import (
	"math/rand"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/shellast"
	"reprotest/varspec"
)

// homeTransform points HOME at the tree on the control build, and at a
// nonexistent path on the experiment build -- a build that reads $HOME
// (for caches, config lookups, or just embeds it) behaves differently when
// it isn't set to a real, writable directory.
func homeTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b.AddEnv("HOME", b.Tree)
	}
	return b.AddEnv("HOME", e.ResolveScalar("path", "/nonexistent/second-build"))
}

// kernelTransform pins uname's reported kernel release/architecture via
// linux64/linux32, catching builds that branch on uname(2) output.
func kernelTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		if !toolAvailable("linux64") {
			return b
		}
		return b.AppendToBuildCommand(shellast.NewCommand("linux64", e.ResolveScalar("uname", "--uname-2.6")))
	}
	if !toolAvailable("linux32") {
		logger.Warn("ignoring kernel variation: linux32 not found in PATH")
		return b
	}
	return b.AppendToBuildCommand(shellast.NewCommand("linux32"))
}

var defaultLocales = []string{"fr_CH.UTF-8", "es_ES", "ru_RU.CP1251", "kk_KZ.RK1048", "zh_CN"}

// localesTransform sets LANG/LC_ALL/LANGUAGE to a fixed pair on control and
// a randomly chosen, deliberately unusual locale on the experiment --
// catching sort-order, date-formatting, and message-translation leaks.
func localesTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		locale := e.ResolveScalar("control", "C.UTF-8")
		b = b.AddEnv("LANG", locale)
		b = b.AddEnv("LC_ALL", locale)
		b = b.AddEnv("LANGUAGE", "en_US:en")
		return b
	}
	choices := e.ResolveSet("available", defaultLocales)
	locale := choices[rand.Intn(len(choices))]
	b = b.AddEnv("LANG", locale)
	b = b.AddEnv("LC_ALL", locale)
	b = b.AddEnv("LANGUAGE", locale)
	return b
}

// execPathTransform appends an extra, deliberately unused PATH component,
// catching builds whose output embeds $PATH itself.
func execPathTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b
	}
	extra := e.ResolveScalar("suffix", "/i_capture_the_path")
	return b.AppendSetup(shellast.Command{
		Name:   "export",
		Suffix: []shellast.Node{shellast.Raw("PATH=\"$PATH:" + extra + "\"")},
	})
}

// timezoneTransform sets TZ to an unusual fixed offset on control and the
// opposite-hemisphere offset on the experiment, catching builds that embed
// local wall-clock time or date without a TZ-neutral format.
func timezoneTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b.AddEnv("TZ", e.ResolveScalar("control", "GMT+12"))
	}
	return b.AddEnv("TZ", e.ResolveScalar("experiment", "GMT-14"))
}

// umaskTransform sets the process umask before the build command runs,
// catching builds whose output file permissions depend on it.
func umaskTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	mask := "0022"
	if vary {
		mask = e.ResolveScalar("experiment", "0002")
	} else {
		mask = e.ResolveScalar("control", mask)
	}
	return b.AppendSetupExec("umask", mask)
}
