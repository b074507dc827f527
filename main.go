// relaychat - a terminal client for conversational agent services.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/api"
	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/connectivity"
	"github.com/jeranaias/relaychat/internal/engine"
	"github.com/jeranaias/relaychat/internal/logging"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/queue"
	"github.com/jeranaias/relaychat/internal/store"
	"github.com/jeranaias/relaychat/internal/stream"
	"github.com/jeranaias/relaychat/internal/ui/chat"
	"github.com/jeranaias/relaychat/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "", "tui":
		runTUI()
	case "status":
		if err := handleStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("relaychat %s (%s, %s)\n", Version, GitCommit, BuildDate)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`relaychat - terminal client for conversational agents

Usage:
  relaychat            Start the chat interface
  relaychat status     Show queued actions and local conversations
  relaychat version    Show version information

Configuration lives at ~/.relaychat/config.toml.
Environment overrides: RELAYCHAT_SERVER_URL, RELAYCHAT_MODEL,
RELAYCHAT_LOG_LEVEL.
`)
}

// =============================================================================
// TUI
// =============================================================================

func runTUI() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(config.HomeDir(), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Path: cfg.Logging.Path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	client := api.NewClient(cfg.Server.BaseURL, logger)
	ingestor := stream.NewIngestor(cfg.Server.BaseURL, logger)
	monitor := connectivity.NewMonitor(client, connectivity.DefaultConfig(), logger)

	eng := engine.New(st, client, ingestor, monitor, cfg.DefaultModel, logger)

	q, err := queue.New(eng, monitor.Online, queue.NewSlot(cfg.Queue.Path), queue.Config{
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
	}, logger)
	if err != nil {
		logger.Error("failed to open action queue", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	eng.AttachQueue(q)

	// Coming back online drains whatever accumulated while away.
	monitor.Subscribe(func(state connectivity.State) {
		if state.Online {
			q.NotifyOnline()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.CheckNow(ctx)
	go monitor.Run(ctx, cfg.ProbeInterval())

	conv, err := resumeConversation(eng, st)
	if err != nil {
		logger.Error("failed to open conversation", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	eng.Branches().SetCurrent(conv.ID)

	chatModel, err := chat.New(eng, conv, styles.NewTheme())
	if err != nil {
		logger.Error("failed to build chat view", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(chatModel, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		logger.Error("tui exited with error", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	eng.Stop()
}

// resumeConversation reopens the most recently touched conversation,
// creating a fresh one on first run.
func resumeConversation(eng *engine.Engine, st *store.Store) (*model.Conversation, error) {
	metas, err := st.ListConversations()
	if err != nil {
		return nil, err
	}
	if len(metas) > 0 {
		conv := metas[0].Conversation
		return &conv, nil
	}
	return eng.NewConversation("")
}

// =============================================================================
// STATUS
// =============================================================================

// handleStatus prints queue and store contents without starting the UI.
func handleStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	actions, err := queue.NewSlot(cfg.Queue.Path).Load()
	if err != nil {
		return err
	}
	fmt.Printf("Queued actions: %d\n", len(actions))
	for _, a := range actions {
		fmt.Printf("  %-18s conv=%s attempts=%d\n", a.Type, a.ConversationID, a.AttemptCount)
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	metas, err := st.ListConversations()
	if err != nil {
		return err
	}
	fmt.Printf("Conversations: %d\n", len(metas))
	for _, meta := range metas {
		marker := " "
		if meta.Conversation.IsBranch() {
			marker = "+"
		}
		fmt.Printf("  %s %-30s %4d msgs  %s\n", marker, meta.Conversation.DisplayTitle(), meta.MessageCount, meta.Preview)
	}
	return nil
}
