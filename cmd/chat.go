package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intelligrit/quakesafe/internal/api"
)

var (
	chatUser    string
	chatHistory bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Ask the earthquake safety assistant a question",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("user") {
			chatUser = cfg.Map.UserID
		}
		if chatUser == "" {
			return fmt.Errorf("chat needs a user: pass --user or set map.user_id")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		client := api.NewClient(cfg.API.BaseURL, cfg.API.RateLimit, cfg.API.Timeout.Duration)
		client.UserID = chatUser

		if chatHistory {
			msgs, err := client.ChatHistory(ctx)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("%s [%s]: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Sender, m.Text)
			}
			if len(args) == 0 {
				return nil
			}
		}

		message := strings.TrimSpace(strings.Join(args, " "))
		if message == "" {
			return fmt.Errorf("nothing to send")
		}

		reply, err := client.Chat(ctx, message)
		if err != nil {
			return err
		}
		fmt.Println(reply.Reply.Text)
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "User ID whose conversation to continue")
	chatCmd.Flags().BoolVar(&chatHistory, "history", false, "Print the conversation so far")
	rootCmd.AddCommand(chatCmd)
}
