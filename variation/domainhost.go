package variation

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"reprotest/buildplan"
	"reprotest/log"
	"reprotest/shellast"
	"reprotest/varspec"
)

var defaultHostnames = []string{"reprotest-a", "reprotest-b", "reprotest-c"}
var defaultDomains = []string{"example.net", "example.org"}

// domainHostTransform gives the experiment build its own hostname and
// domain name inside private namespaces, so a build that bakes the build
// host's identity into its output (uname -n, a generated /etc/hosts or
// resolv.conf) is caught. With sudo it pins a mount and a UTS namespace
// to files under the aux tree, bind-mounts a custom /etc/hosts inside
// the mount namespace (also keeps sudo from warning about the unknown
// hostname), and re-enters both via nsenter around the build. Set
// use_sudo=false to fall back to an unprivileged "unshare -r --uts",
// which can rename the host but not remount /etc/hosts.
func domainHostTransform(ctx *buildplan.Context, logger log.LibraryLogger, e *varspec.Entry, vary bool, b buildplan.Build) buildplan.Build {
	if !vary {
		return b
	}
	if !toolAvailable("unshare") || !toolAvailable("nsenter") {
		logger.Warn("ignoring domain_host variation: unshare/nsenter not found in PATH")
		return b
	}

	host := e.ResolveScalar("hostname", "")
	if host == "" {
		host = defaultHostnames[rand.Intn(len(defaultHostnames))]
	}
	domain := e.ResolveScalar("domain", "")
	if domain == "" {
		domain = defaultDomains[rand.Intn(len(defaultDomains))]
	}
	useSudo := e.ResolveScalar("use_sudo", "true") != "false"

	if !useSudo {
		wrapper := shellast.Command{Name: "unshare", Suffix: []shellast.Node{
			shellast.Quote("-r"), shellast.Quote("--uts"),
			shellast.Quote("sh"), shellast.Quote("-ec"),
			shellast.Quote(fmt.Sprintf(`hostname %s; domainname %s; exec "$0" "$@"`,
				shellast.Quote(host), shellast.Quote(domain))),
		}}
		return b.AppendToBuildCommand(wrapper)
	}

	aux := strings.TrimRight(b.AuxTree, "/")
	mountNS := filepath.Join(aux, "ns-mount")
	utsNS := filepath.Join(aux, "ns-uts")
	hostsPath := filepath.Join(aux, "hosts")

	// Pin the namespaces to files under aux so the wrapper can nsenter
	// them later: the mount namespace file must itself be a private mount
	// point before unshare can bind the new namespace onto it.
	pin := fmt.Sprintf(`touch %[1]s %[2]s
sudo mount --bind %[1]s %[1]s
sudo mount --make-private %[1]s
printf '127.0.0.1 localhost\n127.0.1.1 %[4]s.%[5]s %[4]s\n' > %[3]s
sudo unshare --mount=%[1]s --uts=%[2]s sh -ec 'hostname %[4]s; domainname %[5]s; mount --bind %[3]s /etc/hosts'
`,
		shellast.Quote(mountNS), shellast.Quote(utsNS), shellast.Quote(hostsPath),
		shellast.Quote(host), shellast.Quote(domain))
	b = b.AppendSetupExec("sh", "-ec", pin)

	cur := currentUserGroup()
	wrapper := shellast.NewCommand("sudo", "nsenter",
		"--mount="+mountNS, "--uts="+utsNS, "--",
		"sudo", "-E", "-u", cur.User, "-g", cur.Group, "env")
	b = b.AppendToBuildCommand(wrapper)

	// Each pin file carries a namespace bind on top of the self-bind;
	// unmount both layers before removing the files.
	b = b.PrependCleanupExec("rm", "-f", mountNS, utsNS, hostsPath)
	b = b.PrependCleanupExec("sudo", "umount", mountNS)
	b = b.PrependCleanupExec("sudo", "umount", utsNS, mountNS)
	return b
}
