package main

import (
	"os"

	"github.com/spf13/cobra"

	convscmder "github.com/adcraftco/relay/cmd/relayadm/convs"
	grantcmder "github.com/adcraftco/relay/cmd/relayadm/grant"
	messagescmder "github.com/adcraftco/relay/cmd/relayadm/messages"
	unlinkcmder "github.com/adcraftco/relay/cmd/relayadm/unlink"
)

func main() {
	root := &cobra.Command{
		Use:   "relayadm",
		Short: "Inspect and repair the relay's conversation database",
		Long: `relayadm operates directly on the relay's SQLite database:
listing conversations, dumping message histories, clearing stale
upstream conversation ids, and granting credits.

The database is resolved from --db, the RELAY_DB environment
variable, or ~/.relay/relay.db, in that order.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		convscmder.NewConvsCmd(),
		messagescmder.NewMessagesCmd(),
		unlinkcmder.NewUnlinkCmd(),
		grantcmder.NewGrantCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
