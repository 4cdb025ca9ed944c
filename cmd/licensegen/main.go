// Command licensegen creates license secrets and issues license files.
// It is run by the license authority, never shipped to customers.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"macrotool/internal/config"
	"macrotool/internal/license"
	"macrotool/internal/security"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr, time.Now).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer, now func() time.Time) *cobra.Command {
	root := &cobra.Command{
		Use:           "licensegen",
		Short:         "Issue " + config.AppName + " licenses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	var configFile string
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file holding the license secret")

	root.AddCommand(keygenCmd(), issueCmd(&configFile, now))
	return root
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random license secret",
		Long: `Print a new random license secret.

Give the secret to the build as -ldflags "-X macrotool/internal/config.EmbeddedSecret=<secret>"
or to the application as ` + config.EnvPrefix + `_LICENSE_SECRET. Keep it private: anyone holding it
can issue licenses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := security.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

type issueOptions struct {
	machineID string
	expires   string
	days      int
	out       string
	secret    string
}

func issueCmd(configFile *string, now func() time.Time) *cobra.Command {
	var opts issueOptions

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a license bound to a machine id",
		Example: `  licensegen issue --machine-id 3f2a9c0d1e4b5a67 --days 365 --out license.key
  licensegen issue --machine-id 3f2a9c0d1e4b5a67 --expires 2026-12-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			expiry, err := opts.expiry(now())
			if err != nil {
				return err
			}

			keys, err := loadKeys(*configFile, opts.secret)
			if err != nil {
				return err
			}
			defer keys.Clear()

			issuer, err := license.NewIssuer(keys)
			if err != nil {
				return err
			}

			machineID := strings.TrimSpace(opts.machineID)
			if opts.out == "" {
				_, token, err := issuer.Issue(machineID, expiry)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(token))
				return nil
			}

			rec, err := issuer.IssueFile(opts.out, machineID, expiry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s for %s, expires %s\n",
				opts.out, rec.IssuedTo, rec.Expiry.Format(license.DateLayout))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.machineID, "machine-id", "m", "", "machine id reported by macrotool machine-id")
	cmd.Flags().StringVar(&opts.expires, "expires", "", "last valid day, YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.days, "days", 0, "validity in days from today")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the license file here instead of printing the token")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "license secret (overrides config and "+config.EnvPrefix+"_LICENSE_SECRET)")
	_ = cmd.MarkFlagRequired("machine-id")
	cmd.MarkFlagsMutuallyExclusive("expires", "days")
	cmd.MarkFlagsOneRequired("expires", "days")

	return cmd
}

func (o issueOptions) expiry(now time.Time) (time.Time, error) {
	if o.expires != "" {
		t, err := time.Parse(license.DateLayout, o.expires)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --expires %q: want YYYY-MM-DD", o.expires)
		}
		return t, nil
	}
	if o.days <= 0 {
		return time.Time{}, fmt.Errorf("--days must be positive, got %d", o.days)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d+o.days, 0, 0, 0, 0, time.UTC), nil
}

// loadKeys resolves the signing keys the same way the application does, so
// issued licenses open with the matching build
func loadKeys(configFile, secret string) (*security.KeySet, error) {
	if secret != "" {
		lc := config.LicenseConfig{Secret: secret}
		return lc.KeySet()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return cfg.License.KeySet()
}
