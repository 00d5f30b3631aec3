// Package main provides the sidekick CLI entry point.
// This file wires the interactive chat surface to the engine.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidekick/cmd/sidekick/ui"
	"sidekick/internal/contextset"
	"sidekick/internal/controller"
	"sidekick/internal/gemini"
	"sidekick/internal/history"
	"sidekick/internal/locator"
	"sidekick/internal/workspace"
)

// chatCmd launches the interactive chat interface
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func runChat() error {
	workRoot := cfg.Workspace.Root
	if workRoot == "" || workRoot == "." {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		workRoot = wd
	}

	fs := workspace.NewLocal(workRoot)
	editor := workspace.NewHeadless()

	contexts := contextset.NewStore(logger)
	watcher, err := contextset.NewWatcher(contexts, workRoot, logger)
	if err != nil {
		logger.Warn("file watching disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	sessions, err := history.NewStore(cfg.History.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open session archive: %w", err)
	}
	defer sessions.Close()

	gatewayCfg := gemini.Config{
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.GetGeminiTimeout(),
	}
	gateway := gemini.NewClient(gatewayCfg, logger)

	bridge := ui.NewBridge()
	ctrl := controller.New(controller.Options{
		Contexts:   contexts,
		Sessions:   sessions,
		Gateway:    gateway,
		Secrets:    openSecretStore(),
		FS:         fs,
		Editor:     editor,
		Locator:    locator.New(fs, editor),
		Bridge:     bridge,
		Logger:     logger,
		PerFileCap: cfg.Context.PerFileCap,
	})
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Error("failed to archive session on exit", zap.Error(err))
		}
	}()

	// Prime the surface with the current state; the bridge buffers the
	// pushes until the program starts draining.
	ctrl.Resync()

	model := ui.NewModel(ctrl, editor, bridge, workRoot)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat interface failed: %w", err)
	}
	return nil
}
