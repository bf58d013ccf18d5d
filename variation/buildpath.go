package variation

import (
	"path/filepath"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/varspec"
)

// buildPathTransform relocates the source tree to a name constant across
// every build on its *control* pass (vary == false), so that only
// experiment builds see the original, differing path -- the build path
// itself is the thing being varied, inverted relative to every other
// transform in the table. Must run before fileordering and domain_host,
// which create mounts relative to the tree: moving it out from under a
// mount would strand the mount.
func buildPathTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if vary {
		return b
	}
	tree := filepath.Clean(b.Tree)
	constPath := filepath.Join(filepath.Dir(tree), "const_build_path")
	return b.MoveTree(tree, constPath, true)
}
