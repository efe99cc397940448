package cli

import (
	"fmt"
	"strings"

	"evacom/cmd/security/challenge"

	"github.com/spf13/cobra"
)

type deriveOutput struct {
	Nonce     string `json:"nonce"`
	AccessKey string `json:"access_key"`
	EvacomID  string `json:"evacom_id"`
}

func newDeriveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "derive <nonce>",
		Short: "Print the ACCESS KEY and Evacom ID for a 6-digit nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce := strings.TrimSpace(args[0])
			if !challenge.ValidNonce(nonce) {
				return challenge.ErrNonceMalformed
			}
			secret, err := opts.secretKey()
			if err != nil {
				return err
			}

			codes := challenge.Derive(secret, nonce)
			out := deriveOutput{
				Nonce:     nonce,
				AccessKey: challenge.FormatAccessKey(codes.AccessKey),
				EvacomID:  challenge.FormatEvacomID(codes.ResponseCode),
			}
			return opts.print(cmd.OutOrStdout(), out,
				fmt.Sprintf("ACCESS KEY: %s\nEvacom ID:  %s", out.AccessKey, out.EvacomID))
		},
	}
}

type redeemOutput struct {
	EvacomID string `json:"evacom_id"`
}

func newRedeemCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <access-key>",
		Short: "Turn an ACCESS KEY into its Evacom ID",
		Long: `Checks the ACCESS KEY check digits and prints the Evacom ID the
service console would show for it. Spaces in the key are ignored.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := opts.secretKey()
			if err != nil {
				return err
			}
			code, err := challenge.Redeem(secret, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := redeemOutput{EvacomID: challenge.FormatEvacomID(code)}
			return opts.print(cmd.OutOrStdout(), out, out.EvacomID)
		},
	}
}
