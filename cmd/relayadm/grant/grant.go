package grantcmder

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/adcraftco/relay/cmd/relayadm/dbpath"
	"github.com/adcraftco/relay/pkg/conversation"
)

const grantLongDesc string = `Grant credits to a user.

Adds a positive entry to the credit ledger. Each completed turn debits
one credit; the balance is the sum of all ledger deltas.

Examples:
  relayadm grant web-visitor 100
  relayadm grant --reason "launch promo" alice 25`

const grantShortDesc string = "Grant credits to a user"

type grantCommander struct {
	dbPath string
	reason string
}

func NewGrantCmd() *cobra.Command {
	cmder := &grantCommander{}

	cmd := &cobra.Command{
		Use:   "grant <user> <amount>",
		Short: grantShortDesc,
		Long:  grantLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&cmder.dbPath, "db", "d", "", "Path to SQLite database")
	cmd.Flags().StringVar(&cmder.reason, "reason", "grant", "Ledger entry reason")

	return cmd
}

func (c *grantCommander) run(ctx context.Context, cmd *cobra.Command, user, amountArg string) error {
	amount, err := strconv.ParseInt(amountArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", amountArg, err)
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}

	path, err := dbpath.Resolve(c.dbPath)
	if err != nil {
		return err
	}

	store, err := conversation.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	defer store.Close()

	if err := store.AddLedgerEntry(ctx, &conversation.LedgerEntry{
		User:   user,
		Delta:  amount,
		Reason: c.reason,
	}); err != nil {
		return fmt.Errorf("add ledger entry: %w", err)
	}

	balance, err := store.CreditBalance(ctx, user)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	cmd.Printf("granted %d credit(s) to %s, balance is now %d\n", amount, user, balance)
	return nil
}
