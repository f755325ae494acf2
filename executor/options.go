package executor

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultCapacity is the queue length at which external submissions block
// (Submit) or fail (TrySubmit).
const DefaultCapacity = 1024

// Option configures an Executor.
type Option func(*config)

type config struct {
	name     string
	capacity int
	logger   *zap.Logger
	jsonTags bool
	console  bool
	stdout   io.Writer
	stderr   io.Writer
	init     []Job
}

func defaultConfig() config {
	return config{
		name:     "host",
		capacity: DefaultCapacity,
		logger:   zap.NewNop(),
		jsonTags: true,
		console:  true,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// WithName labels the executor in log output.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithCapacity sets the maximum number of queued jobs accepted from
// outside the loop.
func WithCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
	}
}

// WithLogger sets the logger used by the executor and by calls bridged
// through it.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithConsole redirects the host's console output.
func WithConsole(stdout, stderr io.Writer) Option {
	return func(c *config) {
		c.console = true
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithoutConsole leaves the host without a console object.
func WithoutConsole() Option {
	return func(c *config) {
		c.console = false
	}
}

// WithGoFieldNames exposes Go struct fields to scripts under their Go names
// instead of their json tags.
func WithGoFieldNames() Option {
	return func(c *config) {
		c.jsonTags = false
	}
}

// WithInit adds a hook that runs on the loop before New returns, for
// example to install globals or evaluate a bootstrap script.
func WithInit(job Job) Option {
	return func(c *config) {
		c.init = append(c.init, job)
	}
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	timeout  time.Duration
	filename string
}

func defaultRunConfig() runConfig {
	return runConfig{
		timeout: 30 * time.Second,
	}
}

// WithTimeout sets the maximum execution time. Zero disables the limit.
func WithTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// WithFilename names the script in stack traces.
func WithFilename(name string) RunOption {
	return func(c *runConfig) {
		c.filename = name
	}
}
