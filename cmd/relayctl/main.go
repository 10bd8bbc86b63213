package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"relay-lab/auth"
	"relay-lab/internal"
	"relay-lab/registry"
	"relay-lab/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// relayctl is the fleet operator's diagnostic tool: it lists live
// sessions from the shared registry, dumps stored conversations from a
// node's database, and mints tokens for manual testing.
func main() {
	command := flag.String("cmd", "sessions", "Command to run: sessions | messages | token")
	conversation := flag.String("conversation", "", "Conversation ID (messages command)")
	userID := flag.String("user", "", "User ID (token command)")
	roles := flag.String("roles", "user", "Comma-separated roles (token command)")
	flag.Parse()

	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	switch *command {
	case "sessions":
		err = listSessions(config)
	case "messages":
		err = listMessages(config, *conversation)
	case "token":
		err = mintToken(config, *userID, strings.Split(*roles, ","))
	default:
		err = fmt.Errorf("unknown command %q", *command)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func listSessions(config internal.Config) error {
	client, err := registry.Connect(config.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions, err := registry.NewRedisRegistry(client, config.NodeID, config.SessionTTL).List(ctx)
	if err != nil {
		return fmt.Errorf("session listing failed: %w", err)
	}

	color.New(color.BgBlack, color.FgGreen).Printf("Live sessions: %d\n", len(sessions))

	table := newTable()
	table.SetHeader([]string{"Connection ID", "User ID", "Node", "Connected At"})
	for _, s := range sessions {
		table.Append([]string{s.ConnectionID, s.UserID, s.NodeID, s.CreatedAt.Format(time.RFC3339)})
	}
	table.Render()
	return nil
}

func listMessages(config internal.Config, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("missing -conversation")
	}

	// BypassLockGuard allows opening while the node holds the lock
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	repo := repositories.NewMessageRepository(db, logs.GetLoggerFromString("ERROR"), config.LimitMessages)
	messages, next, err := repo.GetMessages(conversationID, nil)
	if err != nil {
		return fmt.Errorf("message listing failed: %w", err)
	}

	color.New(color.BgBlack, color.FgGreen).Printf("Conversation %s: %d messages\n", conversationID, len(messages))

	table := newTable()
	table.SetHeader([]string{"At", "Sender", "Body", "Media"})
	for _, m := range messages {
		media := ""
		if m.MediaRef != nil {
			media = *m.MediaRef
		}
		table.Append([]string{m.At.Format(time.RFC3339), m.Sender, m.Body, media})
	}
	table.Render()

	if next != nil {
		fmt.Printf("More messages available, cursor: %s\n", *next)
	}
	return nil
}

func mintToken(config internal.Config, userID string, roles []string) error {
	if userID == "" {
		return fmt.Errorf("missing -user")
	}
	token, err := auth.NewTokenManager(config.JWTSecret, config.TokenDuration).Generate(userID, roles)
	if err != nil {
		return fmt.Errorf("token generation failed: %w", err)
	}
	fmt.Println(token)
	return nil
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
