package testbed

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"reprotest/util"
)

// nullDriver runs directly on the local filesystem: Copydown/Copyup are
// plain file copies, Execute is a direct subprocess with no isolation at
// all. Useful when the host itself is a throwaway environment, and for
// tests.
type nullDriver struct {
	mu      sync.Mutex
	scratch string

	ExecuteCalls []string // argv, space-joined, recorded for tests
}

func newNullDriver() Driver {
	return &nullDriver{}
}

func init() {
	Register("null", newNullDriver)
}

func (d *nullDriver) Start(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "reprotest-null-")
	if err != nil {
		return &Error{Verb: "start", Err: err}
	}
	d.mu.Lock()
	d.scratch = dir
	d.mu.Unlock()
	return nil
}

func (d *nullDriver) Open(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scratch == "" {
		return "", &Error{Verb: "open", Err: os.ErrInvalid}
	}
	return d.scratch, nil
}

func (d *nullDriver) Copydown(ctx context.Context, src, dst string) error {
	return d.copy("copydown", src, dst)
}

func (d *nullDriver) Copyup(ctx context.Context, src, dst string) error {
	return d.copy("copyup", src, dst)
}

// copy merges src's contents into dst, matching the protocol's "paths end
// with a separator" directory semantics: copying into an existing dst must
// not nest src's basename under it.
func (d *nullDriver) copy(verb, src, dst string) error {
	if err := util.MkdirAll(dst, 0o755); err != nil {
		return &Error{Verb: verb, Err: err}
	}
	contents := strings.TrimRight(src, string(filepath.Separator)) + string(filepath.Separator) + "."
	if err := util.CopyDir(contents, dst); err != nil {
		return &Error{Verb: verb, Err: err}
	}
	return nil
}

func (d *nullDriver) Execute(ctx context.Context, argv []string, env map[string]string, kind Kind) (Result, error) {
	if len(argv) == 0 {
		return Result{}, &Error{Verb: "execute", Err: os.ErrInvalid}
	}

	d.mu.Lock()
	d.ExecuteCalls = append(d.ExecuteCalls, strings.Join(argv, " "))
	d.mu.Unlock()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, &Error{Verb: "execute", Err: err}
	}
	return res, nil
}

func (d *nullDriver) CheckExec(ctx context.Context, argv []string, env map[string]string, kind Kind) (Result, error) {
	res, err := d.Execute(ctx, argv, env, kind)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &BuildFailure{BuildName: strings.Join(argv, " "), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func (d *nullDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	scratch := d.scratch
	d.scratch = ""
	d.mu.Unlock()
	if scratch == "" {
		return nil
	}
	if err := util.RemoveAll(scratch); err != nil {
		return &Error{Verb: "stop", Err: err}
	}
	return nil
}

func (d *nullDriver) Bomb(message string, kind Kind) error {
	return &Error{Verb: "bomb", Err: errors.New(message)}
}
