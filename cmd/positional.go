package cmd

import "os"

// classifyLeading disambiguates the CLI's single ambiguous positional
// argument: is it source_root or build_command? If it exists on disk and
// isn't the literal "auto", it's a source root; otherwise it's a build
// command.
func classifyLeading(arg string) (sourceRoot, buildCommand string) {
	if arg == "" {
		return "", ""
	}
	if arg != "auto" {
		if _, err := os.Stat(arg); err == nil {
			return arg, ""
		}
	}
	return "", arg
}
