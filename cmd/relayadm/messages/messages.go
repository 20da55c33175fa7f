package messagescmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adcraftco/relay/cmd/relayadm/dbpath"
	"github.com/adcraftco/relay/pkg/conversation"
)

const messagesLongDesc string = `Dump the stored message history of a conversation.

Messages are printed oldest first with their role and token counts,
which is the quickest way to check what a turn actually persisted.

Examples:
  relayadm messages 3f8a...
  relayadm messages --db /var/lib/relay/relay.db 3f8a...`

const messagesShortDesc string = "Dump a conversation's message history"

type messagesCommander struct {
	dbPath string
}

func NewMessagesCmd() *cobra.Command {
	cmder := &messagesCommander{}

	cmd := &cobra.Command{
		Use:   "messages <local-conversation-id>",
		Short: messagesShortDesc,
		Long:  messagesLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.dbPath, "db", "d", "", "Path to SQLite database")

	return cmd
}

func (c *messagesCommander) run(ctx context.Context, cmd *cobra.Command, localID string) error {
	path, err := dbpath.Resolve(c.dbPath)
	if err != nil {
		return err
	}

	store, err := conversation.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	defer store.Close()

	if _, err := store.GetHandle(ctx, localID); err != nil {
		return err
	}

	msgs, err := store.ListMessages(ctx, localID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, m := range msgs {
		cmd.Printf("[%s] %s", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role)
		if m.TotalTokens > 0 {
			cmd.Printf(" (tokens: %d prompt / %d completion)", m.PromptTokens, m.CompletionTokens)
		}
		cmd.Printf("\n%s\n\n", m.Content)
	}
	cmd.Printf("%d message(s)\n", len(msgs))

	return nil
}
