package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const maxStderrLines = 50

// CommandBuilder builds ffmpeg commands with a fluent API. One input may
// feed several outputs, each with its own options.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputs    [][]string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops ffmpeg from reading interactive commands from stdin, which
// must be set whenever stdin is not the media input.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// Output appends an output target preceded by its options.
func (b *CommandBuilder) Output(target string, args ...string) *CommandBuilder {
	out := append(append([]string(nil), args...), target)
	b.outputs = append(b.outputs, out)
	return b
}

// Args returns the argument list without the binary.
func (b *CommandBuilder) Args() []string {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	for _, out := range b.outputs {
		args = append(args, out...)
	}
	return args
}

// Build creates a command bound to ctx. Cancelling ctx kills the process.
func (b *CommandBuilder) Build(ctx context.Context) *Command {
	c := &Command{
		Binary: b.binary,
		Args:   b.Args(),
		stderr: &stderrRing{},
	}
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.cmd.Stderr = c.stderr
	return c
}

// Command is one ffmpeg process. Pipes are requested before Start, as with
// exec.Cmd; stderr is kept as a short tail for error reports.
type Command struct {
	Binary string
	Args   []string

	cmd     *exec.Cmd
	stderr  *stderrRing
	monitor *ProcessMonitor
	logger  *slog.Logger

	mu       sync.Mutex
	started  time.Time
	waitOnce sync.Once
	waitErr  error
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// WithLogger sets the logger used for process lifecycle messages.
func (c *Command) WithLogger(logger *slog.Logger) *Command {
	c.logger = logger
	return c
}

// StdinPipe returns a pipe connected to the process's stdin.
func (c *Command) StdinPipe() (io.WriteCloser, error) {
	return c.cmd.StdinPipe()
}

// StdoutPipe returns a pipe connected to the process's stdout.
func (c *Command) StdoutPipe() (io.ReadCloser, error) {
	return c.cmd.StdoutPipe()
}

// ExtraFiles passes additional open files to the process as fd 3 onwards.
func (c *Command) ExtraFiles(files ...*os.File) {
	c.cmd.ExtraFiles = append(c.cmd.ExtraFiles, files...)
}

// Start starts the process and its resource monitor.
func (c *Command) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", filepath.Base(c.Binary), err)
	}
	c.started = time.Now()
	c.monitor = NewProcessMonitor(c.cmd.Process.Pid)
	c.monitor.Start()

	if c.logger != nil {
		c.logger.Debug("ffmpeg process started",
			slog.Int("pid", c.cmd.Process.Pid),
			slog.String("command", c.String()))
	}
	return nil
}

// Monitor returns the resource monitor, nil before Start.
func (c *Command) Monitor() *ProcessMonitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

// Wait waits for the process to exit. It is safe to call more than once;
// later calls return the first result. A failed exit carries the stderr
// tail.
func (c *Command) Wait() error {
	c.waitOnce.Do(func() {
		err := c.cmd.Wait()
		if mon := c.Monitor(); mon != nil {
			mon.Stop()
			if c.logger != nil {
				c.logger.Debug("ffmpeg process exited", slog.Any("stats", mon.Stats()))
			}
		}
		if err != nil {
			if tail := c.stderr.Lines(); len(tail) > 0 {
				err = fmt.Errorf("%s: %w: %s", filepath.Base(c.Binary), err, strings.Join(tail, "; "))
			} else {
				err = fmt.Errorf("%s: %w", filepath.Base(c.Binary), err)
			}
		}
		c.waitErr = err
	})
	return c.waitErr
}

// Kill terminates the process if it is running.
func (c *Command) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd.Process == nil {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// StderrLines returns the most recent stderr lines.
func (c *Command) StderrLines() []string {
	return c.stderr.Lines()
}

// Duration returns how long the process has been running.
func (c *Command) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// stderrRing keeps the last maxStderrLines complete lines written to it.
type stderrRing struct {
	mu      sync.Mutex
	partial []byte
	lines   []string
}

func (r *stderrRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial = append(r.partial, p...)
	for {
		i := bytes.IndexByte(r.partial, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(r.partial[:i])); line != "" {
			r.lines = append(r.lines, line)
			if len(r.lines) > maxStderrLines {
				r.lines = r.lines[len(r.lines)-maxStderrLines:]
			}
		}
		r.partial = r.partial[i+1:]
	}
	return len(p), nil
}

func (r *stderrRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]string(nil), r.lines...)
	if line := strings.TrimSpace(string(r.partial)); line != "" {
		out = append(out, line)
	}
	return out
}
