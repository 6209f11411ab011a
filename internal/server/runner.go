package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes held open by a
// browser the CLI started
const waitDelay = 2 * time.Second

// maxLine is the longest output line the runner records
const maxLine = 1024 * 1024

// Result is what one CLI run produced
type Result struct {
	Output   string
	ExitCode int
	// Detached is set when the run printed the detach marker and was left
	// running, as keep-open runs do
	Detached bool
}

// Runner executes the CLI with args. A non-empty detachOn makes Run return
// as soon as an output line contains it, leaving the process running.
type Runner interface {
	Run(ctx context.Context, args []string, detachOn string) (Result, error)
}

// ExecRunner re-executes a binary, normally the running postpilot itself
type ExecRunner struct {
	Binary string
	// Prefix goes before every argument list, e.g. a --config flag
	Prefix []string
	// Env is appended to the server's environment
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, args []string, detachOn string) (Result, error) {
	cmd := exec.Command(r.Binary, append(append([]string(nil), r.Prefix...), args...)...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", r.Binary, err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		done <- err
	}()
	stop := context.AfterFunc(ctx, func() { cmd.Process.Kill() })

	var out strings.Builder
	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Text()
		out.WriteString(line)
		out.WriteByte('\n')
		if detachOn != "" && strings.Contains(line, detachOn) {
			stop()
			// Keep draining so the detached process never blocks on a full pipe
			go io.Copy(io.Discard, pr)
			return Result{Output: out.String(), Detached: true}, nil
		}
	}

	if err := sc.Err(); err != nil {
		// The scanner gave up on an overlong line; the child still has to be
		// able to write until it exits.
		fmt.Fprintf(&out, "[output truncated: %v]\n", err)
		io.Copy(io.Discard, pr)
	}

	err := <-done
	stop()
	res := Result{Output: out.String()}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}
	return res, err
}
