package testbed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// backendPrefix is the fixed prefix a virtual-server executable's name
// must carry on PATH to be discoverable as a backend.
const backendPrefix = "reprotest-virt-"

// processDriver speaks a line-oriented request/response protocol to an
// external virtual-server executable: one command per line
// ("open", "copydown SRC DST", "execute ARGV...", "stop", ...), one
// response per command ("ok [payload]" or "fail MESSAGE").
type processDriver struct {
	name string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func newProcessDriver(name string) (Driver, error) {
	path, err := exec.LookPath(backendPrefix + name)
	if err != nil {
		return nil, err
	}
	return &processDriver{name: name, args: []string{path}}, nil
}

func (d *processDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := exec.CommandContext(ctx, d.args[0], d.args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Verb: "start", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Verb: "start", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &Error{Verb: "start", Err: err}
	}
	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	return nil
}

func (d *processDriver) roundTrip(verb string, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := verb
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if _, err := io.WriteString(d.stdin, line+"\n"); err != nil {
		return "", &Error{Verb: verb, Err: err}
	}
	resp, err := d.stdout.ReadString('\n')
	if err != nil {
		return "", &Error{Verb: verb, Err: err}
	}
	resp = strings.TrimRight(resp, "\n")
	status, payload, _ := strings.Cut(resp, " ")
	if status != "ok" {
		return "", &Error{Verb: verb, Err: fmt.Errorf("%s", payload)}
	}
	return payload, nil
}

// Open hands back the testbed's working directory. Backends that spin up a
// container or VM (lxc, qemu) can still be finishing boot when the harness
// sends its first command, so a handshake failure here is retried briefly
// before being treated as fatal.
func (d *processDriver) Open(ctx context.Context) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		payload, err := d.roundTrip("open")
		if err != nil {
			return "", err
		}
		return payload, nil
	},
		backoff.WithBackOff(openBackoff()),
		backoff.WithMaxTries(4),
		backoff.WithMaxElapsedTime(0),
	)
}

func openBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.Multiplier = 2.0
	return b
}

func (d *processDriver) Copydown(ctx context.Context, src, dst string) error {
	_, err := d.roundTrip("copydown", src, dst)
	return err
}

func (d *processDriver) Copyup(ctx context.Context, src, dst string) error {
	_, err := d.roundTrip("copyup", src, dst)
	return err
}

// Execute sends one execute command. The response carries only the exit
// code, so the returned Result's Stdout and Stderr are always empty.
func (d *processDriver) Execute(ctx context.Context, argv []string, env map[string]string, kind Kind) (Result, error) {
	args := []string{string(kind)}
	for k, v := range env {
		args = append(args, k+"="+v)
	}
	args = append(args, "--")
	args = append(args, argv...)

	payload, err := d.roundTrip("execute", args...)
	if err != nil {
		return Result{}, err
	}
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return Result{}, &Error{Verb: "execute", Err: fmt.Errorf("malformed response: missing exit code")}
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return Result{}, &Error{Verb: "execute", Err: fmt.Errorf("malformed exit code %q", fields[0])}
	}
	return Result{ExitCode: code}, nil
}

func (d *processDriver) CheckExec(ctx context.Context, argv []string, env map[string]string, kind Kind) (Result, error) {
	res, err := d.Execute(ctx, argv, env, kind)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &BuildFailure{BuildName: strings.Join(argv, " "), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func (d *processDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stdin != nil {
		io.WriteString(d.stdin, "stop\n")
		d.stdin.Close()
		d.stdin = nil
	}
	if d.cmd != nil {
		cmd := d.cmd
		d.cmd = nil
		return cmd.Wait()
	}
	return nil
}

func (d *processDriver) Bomb(message string, kind Kind) error {
	return &Error{Verb: "bomb", Err: errors.New(message)}
}
