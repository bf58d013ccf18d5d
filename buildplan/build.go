// Package buildplan holds the immutable Build value and the per-build
// scratch-path identity (BuildContext) threaded through the variation
// registry and the orchestrator.
package buildplan

import (
	"path/filepath"

	"reprotest/shellast"
)

// Build holds the shell ASTs and environment for one build (the control or
// one experiment). Every transformation returns a new Build; none of its
// fields are ever mutated in place, so successive values never alias each
// other's env map or AST lists.
type Build struct {
	BuildCommand shellast.Node
	Setup        shellast.AndList
	Cleanup      shellast.List
	Env          map[string]string
	Tree         string // source root inside the testbed, trailing separator
	AuxTree      string // scratch dir for mounts/shims/namespace files
	CleanOnError bool
}

// FromCommand builds the initial Build for a raw user build command line.
// The aux tree is created as the first setup step and removed as the last
// cleanup step, so every variation planned on top of this Build can place
// helper files (shims, namespace pins) there and rely on LIFO rollback.
func FromCommand(buildCommand string, env map[string]string, tree, auxTree string) Build {
	b := Build{
		BuildCommand: shellast.NewCommand("sh", "-ec", buildCommand),
		Setup:        shellast.AndList{},
		Cleanup:      shellast.List{},
		Env:          copyEnv(env),
		Tree:         tree,
		AuxTree:      auxTree,
		CleanOnError: true,
	}
	b = b.AppendSetupExec("mkdir", "-p", auxTree)
	b = b.PrependCleanupExec("rm", "-rf", auxTree)
	return b
}

// AddEnv returns a copy of b with key=value added (or overwritten) in env.
func (b Build) AddEnv(key, value string) Build {
	next := b
	next.Env = copyEnv(b.Env)
	next.Env[key] = value
	return next
}

// UnsetEnv returns a copy of b with key removed from env.
func (b Build) UnsetEnv(key string) Build {
	next := b
	next.Env = copyEnv(b.Env)
	delete(next.Env, key)
	return next
}

// AppendToBuildCommand wraps the current build command as the last argument
// of the given command node -- the idiom used by kernel (linux64/linux32),
// time (faketime), and user_group (sudo) to nest wrappers from the inside
// out as the registry is walked.
func (b Build) AppendToBuildCommand(wrapper shellast.Command) Build {
	next := b
	next.BuildCommand = wrapper.Wrap(b.BuildCommand)
	return next
}

// AppendSetup adds a command to the setup and-list.
func (b Build) AppendSetup(cmd shellast.Node) Build {
	next := b
	next.Setup = b.Setup.Append(cmd)
	return next
}

// AppendSetupExec is AppendSetup for a plain argv command.
func (b Build) AppendSetupExec(name string, args ...string) Build {
	return b.AppendSetup(shellast.NewCommand(name, args...))
}

// AppendSetupExecRaw is AppendSetupExec for arguments that are already valid
// shell syntax and must not be quoted, like export VAR=$(umask), where the
// substitution has to happen when the script runs.
func (b Build) AppendSetupExecRaw(name string, rawArgs ...string) Build {
	c := shellast.Command{Name: name}
	for _, a := range rawArgs {
		c.Suffix = append(c.Suffix, shellast.Raw(a))
	}
	return b.AppendSetup(c)
}

// PrependCleanup adds a command to the front of the cleanup list -- LIFO
// relative to setup, so the most recently allocated resource is the first
// one torn down.
func (b Build) PrependCleanup(cmd shellast.Node) Build {
	next := b
	next.Cleanup = b.Cleanup.Prepend(cmd)
	return next
}

// PrependCleanupExec is PrependCleanup for a plain argv command.
func (b Build) PrependCleanupExec(name string, args ...string) Build {
	return b.PrependCleanup(shellast.NewCommand(name, args...))
}

// MoveTree emits a setup `mv source target` paired with a cleanup
// `mv target source`, optionally updating Tree to the new location -- used
// by build_path (permanent relocation) and fileordering (temporary, to make
// way for a disorderfs mount).
func (b Build) MoveTree(source, target string, setTree bool) Build {
	next := b.AppendSetupExec("mv", source, target).PrependCleanupExec("mv", target, source)
	if setTree {
		next.Tree = withTrailingSlash(target)
	}
	return next
}

// ToScript renders the build as a complete shell script.
func (b Build) ToScript() string {
	return shellast.Script{
		Setup:        b.Setup,
		BuildCommand: b.BuildCommand,
		Cleanup:      b.Cleanup,
		CleanOnError: b.CleanOnError,
	}.Render()
}

func withTrailingSlash(p string) string {
	return filepath.Clean(p) + string(filepath.Separator)
}

func copyEnv(env map[string]string) map[string]string {
	next := make(map[string]string, len(env))
	for k, v := range env {
		next[k] = v
	}
	return next
}
