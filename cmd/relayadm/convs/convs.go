package convscmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adcraftco/relay/cmd/relayadm/dbpath"
	"github.com/adcraftco/relay/pkg/conversation"
)

const convsLongDesc string = `List the conversations stored in the relay database.

Shows each local conversation id alongside its upstream engine
conversation id, if one has been assigned yet.

Examples:
  relayadm convs
  relayadm convs --db /var/lib/relay/relay.db`

const convsShortDesc string = "List stored conversations"

type convsCommander struct {
	dbPath string
}

func NewConvsCmd() *cobra.Command {
	cmder := &convsCommander{}

	cmd := &cobra.Command{
		Use:   "convs",
		Short: convsShortDesc,
		Long:  convsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.dbPath, "db", "d", "", "Path to SQLite database")

	return cmd
}

func (c *convsCommander) run(ctx context.Context, cmd *cobra.Command) error {
	path, err := dbpath.Resolve(c.dbPath)
	if err != nil {
		return err
	}

	store, err := conversation.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	defer store.Close()

	handles, err := store.ListHandles(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	if len(handles) == 0 {
		cmd.Println("no conversations stored")
		return nil
	}

	for _, h := range handles {
		upstream := "(unassigned)"
		if h.UpstreamID != nil {
			upstream = *h.UpstreamID
		}
		cmd.Printf("%s  upstream=%s  created=%s\n",
			h.LocalID, upstream, h.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	cmd.Printf("%d conversation(s)\n", len(handles))

	return nil
}
