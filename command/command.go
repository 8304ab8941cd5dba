// Package command wraps os/exec for the external tools this module drives
// (mkfs, mount, filefrag, losetup, parted). It adds per-stream structured
// logging, optional output buffering, a timeout, and an allowed-exit-code
// set, configured through functional options.
package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/anmitsu/go-shlex"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type T struct {
	name            string
	args            []string
	cwd             string
	env             []string
	log             *zerolog.Logger
	commandLogLevel zerolog.Level
	stdoutLogLevel  zerolog.Level
	stderrLogLevel  zerolog.Level
	bufferStdout    bool
	bufferStderr    bool
	timeout         time.Duration
	okExitCodes     []int

	cmd           *exec.Cmd
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stdout        []byte
	stderr        []byte
	commandString string
	started       bool
	waited        bool
}

// ErrExitCode is returned by Wait and Run when the process exited with a
// code outside the allowed set.
type ErrExitCode struct {
	exitCode     int
	successCodes []int
}

func (e *ErrExitCode) Error() string {
	return fmt.Sprintf("command exit code %d not in success codes %v", e.exitCode, e.successCodes)
}

// ExitCode returns the offending exit code.
func (e *ErrExitCode) ExitCode() int {
	return e.exitCode
}

var (
	ErrAlreadyStarted = errors.New("command: already started")
	ErrAlreadyWaited  = errors.New("command: already waited")
)

// Option mutates a T during New.
type Option func(*T)

// New builds a command. The zero configuration runs the command silently
// with exit code 0 as the only success code.
func New(opts ...Option) *T {
	t := &T{
		commandLogLevel: zerolog.DebugLevel,
		stdoutLogLevel:  zerolog.Disabled,
		stderrLogLevel:  zerolog.Disabled,
		okExitCodes:     []int{0},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func WithName(name string) Option {
	return func(t *T) { t.name = name }
}

func WithArgs(args []string) Option {
	return func(t *T) { t.args = args }
}

// WithVarArgs is WithArgs for literal argument lists.
func WithVarArgs(args ...string) Option {
	return func(t *T) { t.args = args }
}

func WithLogger(log *zerolog.Logger) Option {
	return func(t *T) { t.log = log }
}

// WithCommandLogLevel sets the level the command line itself is logged at.
func WithCommandLogLevel(lvl zerolog.Level) Option {
	return func(t *T) { t.commandLogLevel = lvl }
}

// WithStdoutLogLevel enables per-line logging of the child's stdout.
func WithStdoutLogLevel(lvl zerolog.Level) Option {
	return func(t *T) { t.stdoutLogLevel = lvl }
}

// WithStderrLogLevel enables per-line logging of the child's stderr.
func WithStderrLogLevel(lvl zerolog.Level) Option {
	return func(t *T) { t.stderrLogLevel = lvl }
}

// WithBufferedStdout retains stdout for retrieval via Stdout().
func WithBufferedStdout() Option {
	return func(t *T) { t.bufferStdout = true }
}

// WithBufferedStderr retains stderr for retrieval via Stderr().
func WithBufferedStderr() Option {
	return func(t *T) { t.bufferStderr = true }
}

// WithTimeout kills the process if it runs longer than d.
func WithTimeout(d time.Duration) Option {
	return func(t *T) { t.timeout = d }
}

// WithOkExitCodes replaces the default {0} success code set.
func WithOkExitCodes(codes ...int) Option {
	return func(t *T) { t.okExitCodes = codes }
}

func WithCwd(cwd string) Option {
	return func(t *T) { t.cwd = cwd }
}

func WithEnv(env []string) Option {
	return func(t *T) { t.env = append(t.env, env...) }
}

// Run starts the command and waits for it to finish.
func (t *T) Run() error {
	if err := t.Start(); err != nil {
		return err
	}
	return t.Wait()
}

// Start launches the process and the stream watchers.
func (t *T) Start() error {
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true

	ctx := context.Background()
	if t.timeout > 0 {
		ctx, t.cancel = context.WithTimeout(ctx, t.timeout)
	}
	cmd := exec.CommandContext(ctx, t.name, t.args...)
	if t.cwd != "" {
		cmd.Dir = t.cwd
	}
	if len(t.env) > 0 {
		cmd.Env = append(cmd.Environ(), t.env...)
	}
	t.cmd = cmd

	if t.stdoutLogLevel != zerolog.Disabled || t.bufferStdout {
		r, err := cmd.StdoutPipe()
		if err != nil {
			t.release()
			return err
		}
		t.watch(r, t.stdoutLogLevel, "out", &t.stdout, t.bufferStdout)
	}
	if t.stderrLogLevel != zerolog.Disabled || t.bufferStderr {
		r, err := cmd.StderrPipe()
		if err != nil {
			t.release()
			return err
		}
		t.watch(r, t.stderrLogLevel, "err", &t.stderr, t.bufferStderr)
	}
	if t.log != nil {
		t.log.WithLevel(t.commandLogLevel).Str("cmd", t.String()).Msg("running")
	}
	if err := cmd.Start(); err != nil {
		t.release()
		if t.log != nil {
			t.log.Error().Err(err).Str("cmd", t.String()).Msg("start failed")
		}
		return err
	}
	return nil
}

// watch drains one output stream line by line, logging and buffering as
// configured. Draining must finish before cmd.Wait closes the pipes.
func (t *T) watch(r io.ReadCloser, lvl zerolog.Level, key string, buf *[]byte, buffered bool) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		s := bufio.NewScanner(r)
		s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for s.Scan() {
			if t.log != nil && lvl != zerolog.Disabled {
				t.log.WithLevel(lvl).Str(key, s.Text()).Send()
			}
			if buffered {
				if len(*buf) > 0 {
					*buf = append(*buf, '\n')
				}
				*buf = append(*buf, s.Bytes()...)
			}
		}
	}()
}

// Wait blocks until the process and stream watchers finish, then checks the
// exit code against the allowed set.
func (t *T) Wait() error {
	if !t.started {
		return errors.New("command: not started")
	}
	if t.waited {
		return ErrAlreadyWaited
	}
	t.waited = true
	defer t.release()

	t.wg.Wait()
	err := t.cmd.Wait()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return t.checkExitCode(exitError.ExitCode())
		}
		if t.log != nil {
			t.log.Error().Err(err).Str("cmd", t.String()).Msg("wait failed")
		}
		return err
	}
	return t.checkExitCode(t.ExitCode())
}

func (t *T) release() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *T) checkExitCode(exitCode int) error {
	for _, ok := range t.okExitCodes {
		if exitCode == ok {
			if t.log != nil {
				t.log.Debug().Str("cmd", t.String()).Int("exitCode", exitCode).Send()
			}
			return nil
		}
	}
	err := &ErrExitCode{exitCode: exitCode, successCodes: t.okExitCodes}
	if t.log != nil {
		t.log.Debug().Err(err).Str("cmd", t.String()).Int("exitCode", exitCode).Send()
	}
	return err
}

// ExitCode returns the process exit code. Meaningful after Wait or Run.
func (t *T) ExitCode() int {
	if t.cmd == nil || t.cmd.ProcessState == nil {
		return -1
	}
	return t.cmd.ProcessState.ExitCode()
}

// Stdout returns the buffered stdout. Commands created without
// WithBufferedStdout return nil.
func (t *T) Stdout() []byte {
	return t.stdout
}

// Stderr returns the buffered stderr. Commands created without
// WithBufferedStderr return nil.
func (t *T) Stderr() []byte {
	return t.stderr
}

func (t *T) String() string {
	if t.commandString != "" {
		return t.commandString
	}
	if len(t.args) == 0 {
		t.commandString = t.name
		return t.commandString
	}
	quoted := make([]string, len(t.args))
	for i, arg := range t.args {
		quoted[i] = fmt.Sprintf("%q", arg)
	}
	t.commandString = fmt.Sprintf("%s %s", t.name, strings.Join(quoted, " "))
	return t.commandString
}

// LookPath reports whether an executable can be found in PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CmdArgsFromString splits a command string into exec arguments with shell
// quoting rules. Strings containing shell control operators are handed to
// /bin/sh -c wholesale.
func CmdArgsFromString(s string) ([]string, error) {
	if len(s) == 0 {
		return nil, errors.New("can not create command from empty string")
	}
	if strings.ContainsAny(s, "|;") || strings.Contains(s, "&&") {
		return []string{"/bin/sh", "-c", s}, nil
	}
	split, err := shlex.Split(s, true)
	if err != nil {
		return nil, errors.Wrapf(err, "splitting command %q", s)
	}
	if len(split) == 0 {
		return nil, errors.New("unexpected empty command args from string")
	}
	return split, nil
}
