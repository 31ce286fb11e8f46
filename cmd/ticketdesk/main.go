package main

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/markusylisiurunen/ticketdesk/internal/agent"
	"github.com/markusylisiurunen/ticketdesk/internal/config"
	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/markusylisiurunen/ticketdesk/internal/pricing"
	"github.com/markusylisiurunen/ticketdesk/internal/tui"
	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
	"github.com/markusylisiurunen/ticketdesk/toolkit/tool"
)

//go:embed prompts/system.txt
var systemPrompt string

func main() {
	cfg, err := config.Load(os.Getenv("TICKETDESK_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ReadEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	args := os.Args[1:]
	oneShot := len(args) > 0 && args[0] == "ask"
	// the full-screen UI owns the terminal, so it only logs to a file in debug mode
	var appLogger logger.Logger = logger.NoOp()
	switch {
	case oneShot:
		appLogger = logger.NewConsole(os.Stderr, color.NoColor)
		if cfg.Debug {
			appLogger.SetLevel("debug")
		}
	case cfg.Debug:
		if err := os.MkdirAll(cfg.LogsDir, 0755); err != nil {
			log.Fatalf("error creating debug folder: %v", err)
		}
		debugLogFile := time.Now().Format("2006-01-02T15:04:05") + ".log"
		f, err := os.OpenFile(filepath.Join(cfg.LogsDir, debugLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close() //nolint:errcheck
		appLogger = logger.New(f)
		appLogger.SetEnabled(true)
		appLogger.SetLevel("debug")
	}
	// open and seed the price store
	ctx := context.Background()
	store, err := pricing.Open(ctx, cfg.DatabasePath, appLogger)
	if err != nil {
		log.Fatalf("error opening price database: %v", err)
	}
	defer store.Close() //nolint:errcheck
	if cfg.Seed {
		if err := store.Seed(ctx, cfg.SeedPrices); err != nil {
			log.Fatalf("error seeding price database: %v", err)
		}
	}
	// wire the conversation loop
	handler := tool.NewHandler(
		tool.NewGetTicketPrice(pricing.NewResolver(store, appLogger)).SetLogger(appLogger),
		tool.NewSetTicketPrice(store).SetLogger(appLogger),
	).SetLogger(appLogger)
	model := llm.NewOpenAI(appLogger, cfg.APIKey, cfg.Model, llm.WithBaseURL(cfg.BaseURL))
	loop := agent.NewLoop(model, handler,
		agent.WithSystemPrompt(strings.TrimSpace(systemPrompt)),
		agent.WithMaxRounds(cfg.MaxRounds),
		agent.WithModelTimeout(cfg.ModelTimeout),
		agent.WithStreamOptions(llm.WithMaxTokens(cfg.MaxTokens), llm.WithTemperature(cfg.Temperature)),
		agent.WithLogger(appLogger),
	)
	session := agent.NewSession(loop)
	if oneShot {
		question := strings.TrimSpace(strings.Join(args[1:], " "))
		if question == "" {
			log.Fatal("usage: ticketdesk ask <question...>")
		}
		reply, err := session.Ask(ctx, question)
		if err != nil {
			appLogger.Error("error answering question: %v", err)
			os.Exit(1)
		}
		if rounds, capped := session.LastTurn(); capped {
			appLogger.Error("answer hit the limit of %d tool rounds", rounds)
		} else {
			appLogger.Debug("answered after %d tool rounds", rounds)
		}
		fmt.Println(reply)
		return
	}
	program := tea.NewProgram(tui.Initial(appLogger, session, store, cfg.Model), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		log.Fatalf("error running program: %v", err)
	}
}
