package variation

import "os/exec"

// toolAvailable reports whether name resolves on PATH. A variation whose
// required tool is missing becomes a no-op with a warning rather than a
// planning failure.
func toolAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
