// Command reprotest builds a package twice, under deliberately varied
// conditions, and reports whether the resulting artifacts are identical.
package main

import (
	"os"

	"reprotest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
