package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"macrotool/internal/app"
	"macrotool/internal/config"
	"macrotool/internal/license"
	"macrotool/internal/security"
)

type cli struct {
	configFile string
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	now        func() time.Time
}

// execute runs the command line and returns the process exit code
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr, now: time.Now}
	root := c.rootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", describe(err))
	}
	return exitCode(err)
}

// describe turns license failures into the message shown to the user
func describe(err error) string {
	if kind := license.KindOf(err); kind != 0 {
		return kind.Message()
	}
	return err.Error()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "Desktop automation gated by a machine-bound license",
		Version:       config.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default: "+config.ConfigFileName+" next to the executable)")

	root.AddCommand(c.runCmd(), c.verifyCmd(), c.activateCmd(), c.machineIDCmd())
	return root
}

func (c *cli) newApp(ctx context.Context) (*app.Application, error) {
	return app.NewApplication(ctx, app.Options{
		ConfigFile: c.configFile,
		Console:    c.stderr,
		Now:        c.now,
	})
}

func (c *cli) runCmd() *cobra.Command {
	var allowUnlicensed bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate the license and serve the local status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return a.Run(ctx, allowUnlicensed)
		},
	}
	cmd.Flags().BoolVar(&allowUnlicensed, "allow-unlicensed", false, "serve the status API with automation disabled when the license is rejected")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the license file and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			status := a.Entitlement.Status(c.now())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					return err
				}
			} else {
				printStatus(cmd.OutOrStdout(), status, a.Config.License.File)
			}
			return a.Entitlement.Err()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func printStatus(w io.Writer, s license.Status, path string) {
	fmt.Fprintf(w, "License file:   %s\n", path)
	fmt.Fprintf(w, "State:          %s\n", s.State)
	if !s.Valid {
		fmt.Fprintf(w, "Message:        %s\n", s.Message)
		return
	}
	fmt.Fprintf(w, "Issued to:      %s\n", s.IssuedTo)
	fmt.Fprintf(w, "Expires:        %s (%d days remaining)\n", s.Expiry, s.DaysRemaining)
	features := make([]string, len(s.Features))
	for i, f := range s.Features {
		features[i] = string(f)
	}
	fmt.Fprintf(w, "Features:       %s\n", strings.Join(features, ", "))
}

func (c *cli) activateCmd() *cobra.Command {
	var tokenFile string

	cmd := &cobra.Command{
		Use:   "activate [token]",
		Short: "Validate a license token and install it as the license file",
		Long: `Validate a license token and install it as the license file.

The token is taken from the argument, from --file, or from standard input
when neither is given. The existing license file is only replaced once the
new token has been fully validated for this machine.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := c.readToken(args, tokenFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			rec, err := a.Validator.Activate(ctx, a.Config.License.File, token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "License activated for %s, expires %s (%d days remaining)\n",
				rec.IssuedTo, rec.Expiry.Format(license.DateLayout), rec.DaysRemaining(c.now()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tokenFile, "file", "f", "", "read the token from this file")
	return cmd
}

func (c *cli) readToken(args []string, tokenFile string) ([]byte, error) {
	switch {
	case len(args) == 1 && tokenFile != "":
		return nil, errors.New("pass the token as an argument or with --file, not both")
	case len(args) == 1:
		return []byte(args[0]), nil
	case tokenFile != "":
		return license.ReadLicenseFile(tokenFile)
	}

	if stdinIsTerminal(c.stdin) {
		fmt.Fprint(c.stderr, "Paste your license token and press Ctrl-D: ")
	}
	data, err := io.ReadAll(io.LimitReader(c.stdin, license.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read token from stdin: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("no license token given")
	}
	return data, nil
}

func (c *cli) machineIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "machine-id",
		Short: "Print the identifier a license must be issued to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return fmt.Errorf("%w: %w", app.ErrConfig, err)
			}

			provider, err := security.NewMachineIDProvider(cfg.License.MachineIDSource, cfg.License.MachineID, nil)
			if err != nil {
				return err
			}
			id, err := provider.MachineID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// stdinIsTerminal reports whether stdin is an interactive terminal
func stdinIsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
