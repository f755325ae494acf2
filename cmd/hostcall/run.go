package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/hostcall/executor"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Evaluate a script on the host loop",
	Long: `Evaluate JavaScript on the host loop and print its console output.

Code can be provided via:
  - File argument: hostcall run script.js
  - Inline flag: hostcall run -c 'console.log(1+1)'
  - Stdin: echo 'console.log(1+1)' | hostcall run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to execute")
	runCmd.Flags().Duration("timeout", 30*time.Second, "Execution timeout")
	runCmd.Flags().BoolP("print", "p", false, "Print the value of the last expression as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	printValue, _ := cmd.Flags().GetBool("print")

	source, filename, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if source == "" {
		return cmd.Help()
	}

	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	opts := []executor.RunOption{executor.WithTimeout(timeout)}
	if filename != "" {
		opts = append(opts, executor.WithFilename(filename))
	}

	result := h.exec.Run(cmd.Context(), source, opts...)
	fmt.Fprint(cmd.OutOrStdout(), result.Output)
	if result.Error != nil {
		return result.Error
	}

	if printValue {
		out, err := json.Marshal(result.Value)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}
