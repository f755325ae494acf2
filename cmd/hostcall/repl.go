package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/hostcall/executor"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL on the host loop",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) on the host loop.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - host.call(...) for registered Go functions

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.hostcall_history)")
	replCmd.Flags().StringSlice("load", nil, "Script to load before the prompt (repeatable)")
	replCmd.Flags().Duration("timeout", 30*time.Second, "Timeout per evaluation")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	loads, _ := cmd.Flags().GetStringSlice("load")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".hostcall_history")
	}

	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	for _, file := range loads {
		if err := h.load(cmd.Context(), cmd.OutOrStdout(), file, timeout); err != nil {
			return err
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(cmd.ErrOrStderr(), "hostcall REPL (type 'exit' to quit, Ctrl+D to exit)")

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt("> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt("> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		evaluate(cmd.Context(), h, cmd.OutOrStdout(), cmd.ErrOrStderr(), line, timeout)
	}
}

// evaluate runs one REPL entry and prints its output followed by the
// value of the last expression.
func evaluate(ctx context.Context, h *host, stdout, stderr io.Writer, code string, timeout time.Duration) {
	result := h.exec.Run(ctx, code, executor.WithTimeout(timeout))
	if result.Output != "" {
		fmt.Fprint(stdout, result.Output)
		if !strings.HasSuffix(result.Output, "\n") {
			fmt.Fprintln(stdout)
		}
	}
	if result.Error != nil {
		fmt.Fprintf(stderr, "Error: %v\n", result.Error)
		return
	}
	if result.Value == nil {
		return
	}
	if out, err := json.Marshal(result.Value); err == nil {
		fmt.Fprintln(stdout, string(out))
	} else {
		fmt.Fprintf(stdout, "%v\n", result.Value)
	}
}
