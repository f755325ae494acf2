package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostcall/bridge"
)

var callCmd = &cobra.Command{
	Use:   "call FILE FUNC [ARG]",
	Short: "Call a script function from Go workers",
	Long: `Load FILE, then call the global function FUNC from one or more Go
worker goroutines through the bridge.

FUNC receives (arg, token) and must finish with token.resolve(json) or
token.reject(message), now or later:

  function lookup(id, token) {
    token.resolve(JSON.stringify({id: id, at: host.call("time_now")}));
  }

Each result is printed as one JSON line in completion order.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	callCmd.Flags().IntP("workers", "n", 1, "Number of concurrent calls")
	callCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for loading the script and for each call")
	callCmd.Flags().Bool("null", false, "Pass null instead of a string argument")
	rootCmd.AddCommand(callCmd)
}

type callResult struct {
	Worker int             `json:"worker"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Millis int64           `json:"duration_ms"`
}

func runCall(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	passNull, _ := cmd.Flags().GetBool("null")
	if workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}

	var arg *string
	if len(args) == 3 && !passNull {
		arg = &args[2]
	}

	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := cmd.Context()
	if err := h.load(ctx, cmd.ErrOrStderr(), args[0], timeout); err != nil {
		return err
	}
	fn, err := h.global(ctx, args[1])
	if err != nil {
		return err
	}
	defer fn.Drop()

	// buffered so workers never block if printing stops early
	results := make(chan callResult, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		ref := fn.Clone()
		go func(worker int) {
			defer wg.Done()

			callCtx, cancel := contextWithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			value, err := bridge.Call[json.RawMessage](callCtx, h.exec, ref, arg)
			res := callResult{Worker: worker, Result: value, Millis: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
				h.logger.Warn("call failed", zap.Int("worker", worker), zap.Error(err))
			}
			results <- res
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	failed := 0
	enc := json.NewEncoder(cmd.OutOrStdout())
	for res := range results {
		if res.Error != "" {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, workers)
	}
	return nil
}
