package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Stream tags for sink callbacks
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ErrSpawn marks failures to start the subprocess at all
var ErrSpawn = errors.New("failed to spawn process")

// LineSink receives one output line at a time, tagged with the stream it
// came from, as soon as the line is read. Implementations must be fast;
// the sink is called from the reader goroutines.
type LineSink func(stream, line string)

// Result describes a finished subprocess
type Result struct {
	ExitCode int
}

// Ok reports whether the process exited cleanly
func (r *Result) Ok() bool {
	return r.ExitCode == 0
}

// Run executes a command with stdin closed, draining stdout and stderr
// each on a dedicated reader goroutine so a concurrent log-tailing
// consumer observes live progress. It blocks until the process exits.
// A non-zero exit is reported through Result, not through the error.
func Run(ctx context.Context, sink LineSink, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	// No interactive input expected
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	var mu sync.Mutex
	emit := func(stream, line string) {
		if sink == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		sink(stream, line)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go drain(&wg, stdout, StreamStdout, emit)
	go drain(&wg, stderr, StreamStderr, emit)
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return nil, fmt.Errorf("process wait failed: %w", err)
	}

	return &Result{ExitCode: 0}, nil
}

func drain(wg *sync.WaitGroup, r io.Reader, stream string, emit func(stream, line string)) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(stream, scanner.Text())
	}
}
