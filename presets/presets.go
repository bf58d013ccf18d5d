// Package presets auto-detects a build command and artifact pattern from
// the shape of a source tree, for the "auto" build-command shorthand.
package presets

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Preset is a detected build recipe for a source tree.
type Preset struct {
	BuildCommand    string
	ArtifactPattern string
	SourcePattern   string
	TestbedInit     string
}

// ErrUnrecognized is returned when path doesn't match any known preset
// shape; the caller should fall back to requiring an explicit
// --build-command.
type ErrUnrecognized struct {
	Path string
}

func (e *ErrUnrecognized) Error() string {
	return fmt.Sprintf("unrecognized source type %q; give an explicit build command", e.Path)
}

const presetDebBuildCommand = "dpkg-buildpackage --no-sign -b"
const presetDebArtifactPattern = "../*.deb"

// schrootInit installs the tools the debian preset's build needs inside
// a non-"null" testbed, where they aren't preinstalled.
const schrootInit = `apt-get -y --no-install-recommends install disorderfs faketime locales-all sudo util-linux; test -c /dev/fuse || mknod -m 666 /dev/fuse c 10 229`

// Detect inspects path (a source directory or a .dsc file) and the name
// of the virtual server the build will run under, and returns the
// matching preset. virtualServer == "null" skips testbed_init, since the
// null backend runs directly on the host, which is assumed to already
// have the required tools.
func Detect(path, virtualServer string) (Preset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Preset{}, err
	}

	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(path, "debian")); err == nil {
			p := Preset{BuildCommand: presetDebBuildCommand, ArtifactPattern: presetDebArtifactPattern}
			return withSchrootInit(p, virtualServer), nil
		}
		return Preset{}, &ErrUnrecognized{Path: path}
	}

	if strings.EqualFold(filepath.Ext(path), ".dsc") {
		return detectDsc(path, virtualServer)
	}
	return Preset{}, &ErrUnrecognized{Path: path}
}

func detectDsc(path, virtualServer string) (Preset, error) {
	aux, err := parseDscAux(path)
	if err != nil {
		return Preset{}, err
	}
	fn := filepath.Base(path)

	sourceFiles := append([]string{fn}, aux...)
	var quoted []string
	for _, f := range sourceFiles {
		quoted = append(quoted, shellQuoteSingle(f))
	}

	p := Preset{
		BuildCommand:    fmt.Sprintf("dpkg-source -x %s build && cd build && %s", shellQuoteSingle(fn), presetDebBuildCommand),
		ArtifactPattern: "*.deb",
		SourcePattern:   strings.Join(quoted, " "),
	}
	return withSchrootInit(p, virtualServer), nil
}

func withSchrootInit(p Preset, virtualServer string) Preset {
	if virtualServer == "null" {
		return p
	}
	p.BuildCommand = strings.Replace(p.BuildCommand, "dpkg-buildpackage",
		"PATH=/sbin:/usr/sbin:$PATH apt-get -y --no-install-recommends build-dep ./; dpkg-buildpackage", 1)
	p.TestbedInit = schrootInit
	return p
}

// parseDscAux lists the auxiliary source files a .dsc references
// (tarballs, patches), by grepping its Files: section the same way
// dcmd(1) does.
func parseDscAux(path string) ([]string, error) {
	out, err := exec.Command("egrep",
		`^ [0-9a-f]{32} [0-9]+ ((([a-zA-Z0-9_.-]+/)?[a-zA-Z0-9_.-]+|-) ([a-zA-Z]+|-) )?(.*)$`,
		path).Output()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		files = append(files, fields[len(fields)-1])
	}
	return files, nil
}

func shellQuoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
