// Package cli is the evacom command tree.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"evacom/cmd/security/challenge"

	"github.com/spf13/cobra"
)

// Version is injected at build time:
//
//	go build -ldflags "-X evacom/cmd/internal/cli.Version=1.2.3"
var Version = "dev"

type options struct {
	json   bool
	secret string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "evacom",
		Short: "Evacom out-of-band verification service",
		Long: `evacom links chat accounts to the Evacom service console.

  evacom serve              Run the bot, reaper and HTTP surface
  evacom derive 000123      Print the codes derived from a nonce
  evacom redeem "0001 2309" Turn an ACCESS KEY into an Evacom ID

derive and redeem read SECRET_KEY unless --secret is given.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Output as JSON")
	root.PersistentFlags().StringVar(&opts.secret, "secret", "", "Shared secret (default: $SECRET_KEY)")

	root.AddCommand(
		newServeCmd(),
		newDeriveCmd(opts),
		newRedeemCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (o *options) secretKey() ([]byte, error) {
	raw := o.secret
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv("SECRET_KEY")
	}
	key, err := challenge.SecretKey(raw, 0)
	if errors.Is(err, challenge.ErrSecretMissing) {
		return nil, errors.New("no secret: set SECRET_KEY or pass --secret")
	}
	return key, err
}

func (o *options) print(w io.Writer, v any, text string) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
