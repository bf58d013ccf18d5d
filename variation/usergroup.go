package variation

import (
	"fmt"
	"math/rand"
	"os/user"
	"path/filepath"
	"strings"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/shellast"
	"reprotest/varspec"
)

// userGroupTransform wraps the build command in "sudo -E -u U -g G", and
// installs shim binaries (disorderfs/mkdir/fusermount re-entering as U:G
// via the same sudo) on PATH under the aux tree, so that later variations
// whose setup phase still runs as the original user invoke those tools as
// U:G. Must be planned before fileordering, whose
// setup phase runs disorderfs as the original user even though the build
// itself runs as U:G.
func userGroupTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b
	}

	pool := resolveUserGroupPool(ctx, e)
	if len(pool) == 0 {
		logger.Warn("ignoring user_group variation: no user/group pairs configured (set user_group.available+=user:group, or disable with -user_group)")
		return b
	}

	ug := pool[rand.Intn(len(pool))]
	olduser := currentUserGroup()

	aux := strings.TrimRight(b.AuxTree, "/")
	binDir := filepath.Join(aux, "bin")

	// env -u strips the SUDO_* bookkeeping sudo itself injects, so the
	// build can't see (or embed) which user it was launched from.
	b = b.AppendToBuildCommand(shellast.NewCommand("env",
		"-u", "SUDO_COMMAND", "-u", "SUDO_USER", "-u", "SUDO_UID", "-u", "SUDO_GID"))
	b = b.AppendToBuildCommand(shellast.NewCommand("sudo", "-E", "-u", ug.User, "-g", ug.Group))
	b = b.AppendSetup(shellast.NewCommand("sh", "-ec", userGroupShimScript(binDir, ug.User, ug.Group)))
	b = b.AppendSetup(exportPath(binDir))
	b = b.AppendSetupExec("sudo", "chown", "-h", "-R", "--from="+olduser.User, ug.User, b.Tree)
	b = b.PrependCleanupExec("sudo", "chown", "-h", "-R", "--from="+ug.User, olduser.User, b.Tree)
	return b
}

// exportPath renders "export PATH=\"<dir>:$PATH\"" unquoted, so the shell
// expands $PATH at run time instead of reprotest's own shell-quoting
// turning it into a literal string.
func exportPath(dir string) shellast.Command {
	return shellast.Command{
		Name:   "export",
		Suffix: []shellast.Node{shellast.Raw(fmt.Sprintf("PATH=%q:$PATH", dir))},
	}
}

func userGroupShimScript(binDir, u, g string) string {
	mk := func(tool, real string) string {
		return fmt.Sprintf("printf '#!/bin/sh\\nsudo -u \"%s\" -g \"%s\" %s \"$@\"\\n' > %s/%s\nchmod +x %s/%s\n",
			u, g, real, binDir, tool, binDir, tool)
	}
	return "mkdir -p " + binDir + "\n" +
		mk("disorderfs", "/usr/bin/disorderfs") +
		mk("mkdir", "/bin/mkdir") +
		mk("fusermount", "/bin/fusermount")
}

func resolveUserGroupPool(ctx *buildplan.Context, e *varspec.Entry) []buildplan.UserGroup {
	var defaults []string
	for _, ug := range ctx.UserGroups {
		defaults = append(defaults, ug.User+":"+ug.Group)
	}

	cur := currentUserGroup()
	var pool []buildplan.UserGroup
	for _, tok := range e.ResolveSet("available", defaults) {
		user, group, hasGroup := strings.Cut(tok, ":")
		if !hasGroup {
			group = user
		}
		if user == cur.User && group == cur.Group {
			continue
		}
		pool = append(pool, buildplan.UserGroup{User: user, Group: group})
	}
	return pool
}

func currentUserGroup() buildplan.UserGroup {
	u, err := user.Current()
	if err != nil {
		return buildplan.UserGroup{}
	}
	group := u.Username
	if g, err := user.LookupGroupId(u.Gid); err == nil {
		group = g.Name
	}
	return buildplan.UserGroup{User: u.Username, Group: group}
}
