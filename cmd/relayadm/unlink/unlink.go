package unlinkcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adcraftco/relay/cmd/relayadm/dbpath"
	"github.com/adcraftco/relay/pkg/conversation"
)

const unlinkLongDesc string = `Clear a conversation's stored upstream engine id.

Use this when the engine has lost a conversation but the relay still
holds the stale reference. Only the upstream linkage is removed; the
conversation and its message history stay addressable, and the next
turn will be sent as a fresh upstream conversation.

Examples:
  relayadm unlink 3f8a...`

const unlinkShortDesc string = "Clear a stale upstream conversation id"

type unlinkCommander struct {
	dbPath string
}

func NewUnlinkCmd() *cobra.Command {
	cmder := &unlinkCommander{}

	cmd := &cobra.Command{
		Use:   "unlink <local-conversation-id>",
		Short: unlinkShortDesc,
		Long:  unlinkLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.dbPath, "db", "d", "", "Path to SQLite database")

	return cmd
}

func (c *unlinkCommander) run(ctx context.Context, cmd *cobra.Command, localID string) error {
	path, err := dbpath.Resolve(c.dbPath)
	if err != nil {
		return err
	}

	store, err := conversation.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	defer store.Close()

	h, err := store.GetHandle(ctx, localID)
	if err != nil {
		return err
	}
	if h.UpstreamID == nil {
		cmd.Printf("%s has no upstream id assigned\n", localID)
		return nil
	}

	if err := store.ClearUpstreamID(ctx, localID); err != nil {
		return fmt.Errorf("clear upstream id: %w", err)
	}

	cmd.Printf("cleared upstream id %s from %s\n", *h.UpstreamID, localID)
	return nil
}
