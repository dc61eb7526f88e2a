package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xmhha/session-engine/pkg/config"
	"github.com/0xmhha/session-engine/pkg/display"
	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
	"github.com/0xmhha/session-engine/pkg/system"
)

// loadConfig loads configuration, honoring an explicit -config path.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// newSystem builds a System from configuration.
func newSystem(configPath string) (*config.Config, system.System, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	sys, err := system.New(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize system: %w", err)
	}

	return cfg, sys, nil
}

// parseFormat maps a format flag value to a display format.
func parseFormat(name string) display.Format {
	switch name {
	case "json":
		return display.FormatJSON
	case "simple":
		return display.FormatSimple
	default:
		return display.FormatTable
	}
}

// serveCommand runs the engine until interrupted.
type serveCommand struct {
	configPath string
}

// Execute runs the serve command.
func (c *serveCommand) Execute() error {
	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close system: %v\n", err)
		}
	}()

	ctx := context.Background()
	if err := sys.Start(ctx); err != nil {
		return fmt.Errorf("failed to start system: %w", err)
	}

	// Wait for interrupt.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println("session-engine running - press Ctrl+C to stop")
	<-sigChan

	fmt.Println("Stopping...")
	return sys.Stop()
}

// statusCommand shows a status snapshot.
type statusCommand struct {
	format     string
	health     bool
	configPath string
}

// Execute runs the status command.
func (c *statusCommand) Execute() error {
	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	ctx := context.Background()

	status, err := sys.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	formatter := display.New(display.Config{
		Format:         parseFormat(c.format),
		ShowTimestamps: true,
	})

	if err := formatter.FormatStatus(os.Stdout, status); err != nil {
		return err
	}

	if !c.health {
		return nil
	}

	h := sys.Health(ctx)
	if c.format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(h)
	}

	if h.Healthy {
		fmt.Println("Health: ok")
		return nil
	}

	fmt.Println("Health: degraded")
	for _, problem := range h.Problems {
		fmt.Printf("  - %s\n", problem)
	}
	return nil
}

// sessionsCommand handles session management subcommands.
type sessionsCommand struct {
	configPath string
}

// Execute runs the sessions command.
func (c *sessionsCommand) Execute(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "list":
		return c.runList(subargs)
	case "show":
		return c.runShow(subargs)
	case "delete":
		return c.runDelete(subargs)
	case "help":
		return c.showHelp()
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", subcommand)
	}
}

// runList lists sessions, optionally filtered.
func (c *sessionsCommand) runList(args []string) error {
	fs := flag.NewFlagSet("sessions list", flag.ExitOnError)
	platform := fs.String("platform", "", "filter by platform")
	userID := fs.String("user", "", "filter by user ID")
	status := fs.String("status", "", "filter by lifecycle status")
	format := fs.String("format", "table", "output format (table, json, simple)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	sessions, err := sys.Manager().FindSessions(context.Background(), store.Filter{
		Platform: session.Platform(*platform),
		UserID:   *userID,
		Status:   session.Status(*status),
	})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	formatter := display.New(display.Config{
		Format:         parseFormat(*format),
		ShowTimestamps: true,
	})
	return formatter.FormatSessions(os.Stdout, sessions)
}

// runShow prints one session as JSON.
func (c *sessionsCommand) runShow(args []string) error {
	fs := flag.NewFlagSet("sessions show", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: session-engine sessions show <id>")
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	sess, err := sys.Manager().GetSession(context.Background(), fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(sess)
}

// runDelete removes a session and its descendants.
func (c *sessionsCommand) runDelete(args []string) error {
	fs := flag.NewFlagSet("sessions delete", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: session-engine sessions delete <id>")
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	id := fs.Arg(0)
	if err := sys.Manager().DeleteSession(context.Background(), id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Printf("Deleted session %s\n", id)
	return nil
}

// showHelp displays help for the sessions command.
func (c *sessionsCommand) showHelp() error {
	help := `Sessions - session management

Usage:
  session-engine sessions <subcommand> [flags]

Subcommands:
  list      List sessions
  show      Show one session as JSON
  delete    Delete a session and its children

List Flags:
  -platform   Filter by platform (telegram, discord, slack, whatsapp, web, voice, api)
  -user       Filter by user ID
  -status     Filter by status (active, idle, suspended, expired, closed)
  -format     Output format (table, json, simple)

Examples:
  # List every session
  session-engine sessions list

  # List idle telegram sessions
  session-engine sessions list -platform telegram -status idle

  # Show one session
  session-engine sessions show 2b1c...

  # Delete a session
  session-engine sessions delete 2b1c...
`
	fmt.Print(help)
	return nil
}
