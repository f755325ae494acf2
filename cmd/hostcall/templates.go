package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/hostcall/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates FILE",
	Short: "List the templates a script object provides",
	Long: `Load FILE and read templates from a global object shaped like:

  var generator = {
    shouldReuseParams: false,
    sqlTemplates() { return { select: { basic: "SELECT {{x}}" } }; },
    callTemplate(name, params) { ... },   // optional
  };

Without --render every template is printed as "category/name<TAB>text".
With --render NAME the object's callTemplate(name, params) is called.`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplates,
}

func init() {
	templatesCmd.Flags().String("object", "generator", "Global object providing the templates")
	templatesCmd.Flags().Bool("json", false, "Print templates as JSON")
	templatesCmd.Flags().String("render", "", "Template to expand through callTemplate")
	templatesCmd.Flags().StringToString("param", nil, "Parameter for --render (repeatable key=value)")
	templatesCmd.Flags().Duration("timeout", 30*time.Second, "Script load timeout")
	rootCmd.AddCommand(templatesCmd)
}

type templatesResponse struct {
	ReuseParams bool              `json:"reuse_params"`
	Templates   map[string]string `json:"templates"`
}

func runTemplates(cmd *cobra.Command, args []string) error {
	object, _ := cmd.Flags().GetString("object")
	asJSON, _ := cmd.Flags().GetBool("json")
	render, _ := cmd.Flags().GetString("render")
	params, _ := cmd.Flags().GetStringToString("param")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := cmd.Context()
	if err := h.load(ctx, cmd.ErrOrStderr(), args[0], timeout); err != nil {
		return err
	}
	obj, err := h.global(ctx, object)
	if err != nil {
		return err
	}

	provider, err := templates.Load(ctx, h.exec, obj, templates.WithLogger(h.logger.Named("templates")))
	if err != nil {
		obj.Drop()
		return fmt.Errorf("read templates from %s: %w", object, err)
	}
	defer provider.Close()

	out := cmd.OutOrStdout()
	if render != "" {
		text, err := provider.CallTemplate(ctx, render, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}

	tmpl := provider.Templates()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(templatesResponse{ReuseParams: tmpl.ReuseParams(), Templates: tmpl.All()})
	}

	fmt.Fprintf(out, "# reuse params: %t\n", tmpl.ReuseParams())
	for _, name := range tmpl.Names() {
		text, _ := tmpl.Get(name)
		fmt.Fprintf(out, "%s\t%s\n", name, strings.ReplaceAll(text, "\n", `\n`))
	}
	return nil
}
