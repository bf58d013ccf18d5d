package variation

import (
	"path/filepath"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/varspec"
)

// fileorderingTransform relocates the tree aside, recreates an empty tree,
// and mounts disorderfs over it with shuffled directory entries -- so a
// build that silently depends on readdir(3) order sees a different order
// between control and experiment. Requires disorderfs on PATH; a missing
// tool demotes this to a no-op with a warning.
func fileorderingTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b
	}
	if !toolAvailable("disorderfs") {
		logger.Warn("ignoring fileordering variation: disorderfs not found in PATH")
		return b
	}

	tree := filepath.Clean(b.Tree)
	oldTree := filepath.Join(filepath.Dir(tree), filepath.Base(tree)+"-before-disorderfs")

	b = b.MoveTree(tree, oldTree, false)
	b = b.AppendSetupExec("mkdir", "-p", tree)
	b = b.PrependCleanupExec("rmdir", tree)

	args := []string{"--shuffle-dirents=yes"}
	if ctx.Verbosity == 0 {
		args = append([]string{"-q"}, args...)
	}
	args = append(args, oldTree+string(filepath.Separator), tree+string(filepath.Separator))
	b = b.AppendSetupExec("disorderfs", args...)
	b = b.PrependCleanupExec("fusermount", "-u", tree)

	// user_group's shim binaries (re-entering disorderfs/mkdir/fusermount
	// via sudo) live under aux/bin; cleanup needs them on PATH too.
	binDir := filepath.Join(ctx.TestbedAux(), "bin")
	b = b.PrependCleanup(exportPath(binDir))
	return b
}
