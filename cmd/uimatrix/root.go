package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuitang/uimatrix/internal/config"
	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/intercept"
	"github.com/kuitang/uimatrix/internal/report"
	"github.com/kuitang/uimatrix/internal/scenario"
	"github.com/kuitang/uimatrix/internal/session"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "uimatrix",
		Short:         "Scenario-matrix browser test tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLabelsCmd(),
		newStorageCmd(),
		newRewriteCmd(),
		newAuthCmd(),
		newReportCmd(),
		newConfigCmd(),
	)
	return root
}

func newLabelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels <matrix.yaml>",
		Short: "List the scenario labels of a matrix in run order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := scenario.LoadMatrix(args[0])
			if err != nil {
				return err
			}
			for _, label := range m.Labels() {
				fmt.Fprintln(cmd.OutOrStdout(), label)
			}
			return nil
		},
	}
}

func newStorageCmd() *cobra.Command {
	var origin, path string
	cmd := &cobra.Command{
		Use:   "storage <state.json> [key]",
		Short: "Print seeded local storage values from a storage-state file",
		Long: `Print local storage values from a storage-state file.

Without a key every origin and entry is listed. With a key the value is
printed; --path reads a field inside a JSON value.`,
		Example: `  uimatrix storage auth/state.json
  uimatrix storage auth/state.json sucursal
  uimatrix storage auth/state.json usuario --path perfil.nombre`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := session.ReadStorageState(args[0])
			if err != nil {
				return errs.Wrap(errs.InvalidArgument, "storage state", err)
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				for _, o := range st.Origins {
					fmt.Fprintln(out, o.Origin)
					for _, kv := range o.LocalStorage {
						fmt.Fprintf(out, "  %s=%s\n", kv.Name, kv.Value)
					}
				}
				return nil
			}

			key := args[1]
			var (
				v  string
				ok bool
			)
			switch {
			case path != "":
				v, ok = st.LookupField(key, path)
			case origin != "":
				v, ok = st.LocalStorage(origin, key)
			default:
				v, ok = st.Lookup(key)
			}
			if !ok {
				return errs.New(errs.InvalidArgument, fmt.Sprintf("no local storage value %q", key))
			}
			fmt.Fprintln(out, v)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "only look in this origin")
	cmd.Flags().StringVar(&path, "path", "", "field path inside a JSON value")
	return cmd
}

func newRewriteCmd() *cobra.Command {
	var (
		path      string
		minFields int
	)
	cmd := &cobra.Command{
		Use:   "rewrite <matrix.yaml> <body.json>",
		Short: "Show how each scenario would rewrite a captured response body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := scenario.LoadMatrix(args[0])
			if err != nil {
				return err
			}
			body, err := os.ReadFile(args[1])
			if err != nil {
				return errs.Wrap(errs.InvalidArgument, "read body", err)
			}
			var segments []string
			if path != "" {
				segments = strings.Split(path, ".")
			}
			out := cmd.OutOrStdout()
			for _, sc := range m {
				rewritten, outcome := intercept.Rewrite(body, segments, sc.Map(), minFields)
				fmt.Fprintf(out, "== %s (%s)\n%s\n", sc.Label(), outcome, bytes.TrimSpace(rewritten))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "dot-separated path of the object to rewrite, e.g. data.permiso")
	cmd.Flags().IntVar(&minFields, "min-fields", intercept.DefaultMinFields, "smallest object that is rewritten")
	return cmd
}

func newAuthCmd() *cobra.Command {
	var (
		out  string
		form = session.DefaultLoginForm
	)
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in once and save the storage state every run starts from",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateCredentials(); err != nil {
				return errs.Wrap(errs.InvalidArgument, "credentials", err)
			}
			if out == "" {
				out = cfg.StorageStatePath
			}
			if out == "" {
				return errs.New(errs.InvalidArgument, "--out or STORAGE_STATE is required")
			}
			login := session.FormLogin(cfg.BaseURL, form, cfg.Credentials())
			if err := session.CaptureAuthState(cmd.Context(), cfg.SessionOptions(), login, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved storage state to %s\n", out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", "storage state file to write (default STORAGE_STATE)")
	f.StringVar(&form.Path, "login-path", "", "login page path")
	f.StringVar(&form.UserSelector, "user-selector", form.UserSelector, "user input selector")
	f.StringVar(&form.PasswordSelector, "password-selector", form.PasswordSelector, "password input selector")
	f.StringVar(&form.SubmitSelector, "submit-selector", form.SubmitSelector, "submit button selector")
	f.StringVar(&form.DoneURL, "done-url", "", "URL glob reached after a successful login")
	return cmd
}

func newReportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "report <report.json>",
		Short: "Render a saved run report as Markdown or HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errs.Wrap(errs.InvalidArgument, "open report", err)
			}
			defer f.Close()
			summary, err := report.ReadJSON(f)
			if err != nil {
				return errs.Wrap(errs.InvalidArgument, "read report", err)
			}

			var rendered []byte
			switch format {
			case "md", "markdown":
				rendered = []byte(summary.Markdown())
			case "html":
				if rendered, err = summary.HTML(); err != nil {
					return err
				}
			default:
				return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown format %q (want md or html)", format))
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(rendered)
				return err
			}
			return os.WriteFile(out, rendered, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format: md or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "load config", err)
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "uimatrix configuration:")
	cfg.PrintSummary(w)
}
