package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevindra/clonechat"
)

func newListChatsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-chats",
		Short: "List every chat of the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if err := a.connect(ctx); err != nil {
				return err
			}

			dialogs, err := a.client.Dialogs(ctx)
			if err != nil {
				return err
			}
			for _, d := range dialogs {
				line := fmt.Sprintf("%d\t%s\t%s", d.Chat.ID, d.Chat.Kind, d.Chat.Title)
				if d.Chat.Username != "" {
					line += "\t@" + d.Chat.Username
				}
				if d.Chat.Restricted {
					line += "\t[restricted]"
				}
				if d.Chat.Forum {
					line += "\t[forum]"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	return cmd
}

func newListTopicsCmd(g *globalFlags) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "list-topics",
		Short: "List the forum topics of a supergroup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if err := a.connect(ctx); err != nil {
				return err
			}

			resolver := clonechat.NewResolver(a.client, clonechat.ResolverLogger(a.logger))
			chatID, err := resolver.Resolve(ctx, id)
			if err != nil {
				return err
			}
			topics, err := a.client.Topics(ctx, chatID)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Printf("%d\t%s\n", t.ID, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "chat: id, @username or t.me link")
	return cmd
}

func newTestResolveCmd(g *globalFlags) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "test-resolve",
		Short: "Resolve a chat identifier and print its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if err := a.connect(ctx); err != nil {
				return err
			}

			resolver := clonechat.NewResolver(a.client, clonechat.ResolverLogger(a.logger))
			chatID, err := resolver.Resolve(ctx, id)
			if err != nil {
				return err
			}
			chat, err := a.client.ChatInfo(ctx, chatID)
			if err != nil {
				return err
			}
			fmt.Printf("id:         %d\n", chat.ID)
			fmt.Printf("kind:       %s\n", chat.Kind)
			fmt.Printf("title:      %s\n", chat.Title)
			if chat.Username != "" {
				fmt.Printf("username:   @%s\n", chat.Username)
			}
			fmt.Printf("restricted: %t\n", chat.Restricted)
			fmt.Printf("forum:      %t\n", chat.Forum)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "chat: id, @username or t.me link")
	return cmd
}
