package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tylaig/msatempmail/internal/service"
)

var (
	provisionLocal  string
	provisionDomain string
	provisionTTL    time.Duration
)

func init() {
	rootCmd.AddCommand(provisionCmd, listCmd)
	provisionCmd.Flags().StringVar(&provisionLocal, "local", "", "Local part (random when empty)")
	provisionCmd.Flags().StringVar(&provisionDomain, "domain", "", "Domain (first allowed domain when empty)")
	provisionCmd.Flags().DurationVar(&provisionTTL, "ttl", 0, "Mailbox lifetime (configured default when zero)")
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create or reset a mailbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, closeFn, err := openMailboxes()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		out, err := svc.Provision(ctx, service.ProvisionInput{
			TTLSeconds: int64(provisionTTL / time.Second),
			LocalPart:  provisionLocal,
			Domain:     provisionDomain,
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <address>",
	Short: "List message summaries of a mailbox, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openMailboxes()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		out, err := svc.ListMessages(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}
