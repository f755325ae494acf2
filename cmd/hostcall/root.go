package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caffeineduck/hostcall/executor"
	"github.com/caffeineduck/hostcall/hostfunc"
)

var rootCmd = &cobra.Command{
	Use:   "hostcall",
	Short: "Call JavaScript host functions from concurrent Go workers",
	Long: `hostcall - Drive a single-threaded JavaScript runtime from many goroutines.

Scripts run on one host loop. Go workers call script functions through a
bridge and receive results asynchronously when the script completes the
token it was handed. Scripts reach Go through host.call(name, args).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().Bool("kv", false, "Enable key-value store (host.call(\"kv_get\", ...))")
	rootCmd.PersistentFlags().String("kv-db", "", "Persist the key-value store in this SQLite file (implies --kv)")
	rootCmd.PersistentFlags().Int("queue", executor.DefaultCapacity, "Host queue capacity")
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// host is the runtime shared by every command: an executor with the
// hostfunc registry installed.
type host struct {
	exec   *executor.Executor
	kv     *hostfunc.KV
	logger *zap.Logger
}

type hostConfig struct {
	logger   *zap.Logger
	kv       bool
	kvDB     string
	capacity int
	stdout   io.Writer
	stderr   io.Writer
}

func newHost(cmd *cobra.Command, extra ...executor.Option) (*host, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	cfg := hostConfig{
		logger: logger,
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}
	cfg.kv, _ = cmd.Flags().GetBool("kv")
	cfg.kvDB, _ = cmd.Flags().GetString("kv-db")
	cfg.capacity, _ = cmd.Flags().GetInt("queue")
	return openHost(cfg, extra...)
}

func openHost(cfg hostConfig, extra ...executor.Option) (*host, error) {
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.capacity <= 0 {
		cfg.capacity = executor.DefaultCapacity
	}

	h := &host{logger: cfg.logger}
	registry := hostfunc.NewRegistry(hostfunc.WithLogger(cfg.logger.Named("hostfunc")))

	if cfg.kv || cfg.kvDB != "" {
		kvCfg := hostfunc.DefaultKVConfig()
		if cfg.kvDB != "" {
			store, err := hostfunc.OpenSQLiteStore(cfg.kvDB)
			if err != nil {
				return nil, err
			}
			kvCfg.Store = store
		}
		h.kv = hostfunc.NewKV(kvCfg)
	}
	hostfunc.Builtins(registry, h.kv)

	opts := []executor.Option{
		executor.WithLogger(cfg.logger),
		executor.WithCapacity(cfg.capacity),
		executor.WithInit(registry.Install(context.Background())),
	}
	if cfg.stdout != nil {
		opts = append(opts, executor.WithConsole(cfg.stdout, cfg.stderr))
	} else {
		opts = append(opts, executor.WithoutConsole())
	}

	var err error
	h.exec, err = executor.New(append(opts, extra...)...)
	if err != nil {
		h.closeKV()
		return nil, err
	}
	return h, nil
}

func (h *host) Close() {
	h.exec.Close()
	h.closeKV()
	_ = h.logger.Sync()
}

func (h *host) closeKV() {
	if h.kv != nil {
		if err := h.kv.Close(); err != nil {
			h.logger.Warn("close kv store", zap.Error(err))
		}
	}
}

// load evaluates a script file on the host loop, copying its console
// output to w.
func (h *host) load(ctx context.Context, w io.Writer, filename string, timeout time.Duration) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	res := h.exec.Run(ctx, string(data), executor.WithFilename(filename), executor.WithTimeout(timeout))
	io.WriteString(w, res.Output)
	if res.Error != nil {
		return fmt.Errorf("load %s: %w", filename, res.Error)
	}
	h.logger.Debug("script loaded", zap.String("file", filename), zap.Duration("duration", res.Duration))
	return nil
}

// global roots the script global name.
func (h *host) global(ctx context.Context, name string) (*executor.Ref, error) {
	var ref *executor.Ref
	err := h.exec.Do(ctx, func(s *executor.Scope) error {
		v := s.Runtime().GlobalObject().Get(name)
		if v == nil || goja.IsUndefined(v) {
			return fmt.Errorf("%q is not defined", name)
		}
		obj, ok := v.(*goja.Object)
		if !ok {
			return fmt.Errorf("%q is not an object", name)
		}
		ref = s.NewRef(obj)
		return nil
	})
	return ref, err
}

func readSource(cmd *cobra.Command, args []string) (source, filename string, err error) {
	code, _ := cmd.Flags().GetString("code")

	switch {
	case code != "":
		return code, "", nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", err
		}
		return string(data), args[0], nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", err
		}
		return string(data), "", nil
	}
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
