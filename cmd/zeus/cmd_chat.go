package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zeus-ia/zeus"
)

func init() {
	chatCmd.Flags().StringP("agent", "a", "ZEUS CORE", "Agent to talk to")
	chatCmd.Flags().StringP("company", "c", "default", "Company the conversation belongs to")
	chatCmd.Flags().StringP("thread", "t", "main", "Conversation thread")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Run one chat turn in-process and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentName, _ := cmd.Flags().GetString("agent")
		company, _ := cmd.Flags().GetString("company")
		thread, _ := cmd.Flags().GetString("thread")

		// Keep stdout for the reply.
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		app, err := zeus.New(zeus.WithVersion(version), zeus.WithLogger(quiet))
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		defer func() { _ = app.Shutdown(cmd.Context()) }()

		reply, chatErr := app.Chat(cmd.Context(), agentName, company, thread, strings.Join(args, " "))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reply); err != nil {
			return err
		}
		return chatErr
	},
}
