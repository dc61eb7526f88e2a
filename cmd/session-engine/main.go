// Package main provides the session-engine CLI application.
//
// Session Engine manages conversational agent sessions across chat
// platforms, with lifecycle tracking, expiry rules, backups and
// cross-session synchronization.
package main

import (
	"flag"
	"fmt"
	"os"
)

// version is set during build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the main application logic.
func run() error {
	// Define global flags.
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version information")

	// Parse command.
	flag.Parse()

	// Handle version flag.
	if *showVersion {
		fmt.Printf("session-engine %s\n", version)
		return nil
	}

	// Get command.
	args := flag.Args()
	if len(args) == 0 {
		return showUsage()
	}

	command := args[0]

	switch command {
	case "serve":
		return runServeCommand(*configPath)
	case "status":
		return runStatusCommand(*configPath, args[1:])
	case "sessions":
		return runSessionsCommand(*configPath, args[1:])
	case "backup":
		return runBackupCommand(*configPath, args[1:])
	case "config":
		return runConfigCommand(*configPath, args[1:])
	case "help":
		return showUsage()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServeCommand runs the serve command.
func runServeCommand(configPath string) error {
	cmd := &serveCommand{
		configPath: configPath,
	}
	return cmd.Execute()
}

// runStatusCommand runs the status command.
func runStatusCommand(configPath string, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	format := fs.String("format", "table", "output format (table, json, simple)")
	health := fs.Bool("health", false, "include health probes")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd := &statusCommand{
		format:     *format,
		health:     *health,
		configPath: configPath,
	}
	return cmd.Execute()
}

// runSessionsCommand runs the sessions command.
func runSessionsCommand(configPath string, args []string) error {
	cmd := &sessionsCommand{
		configPath: configPath,
	}
	return cmd.Execute(args)
}

// runBackupCommand runs the backup command.
func runBackupCommand(configPath string, args []string) error {
	cmd := &backupCommand{
		configPath: configPath,
	}
	return cmd.Execute(args)
}

// runConfigCommand runs the config command.
func runConfigCommand(configPath string, args []string) error {
	cmd := &configCommand{
		configPath: configPath,
	}
	return cmd.Execute(args)
}

// showUsage displays usage information.
func showUsage() error {
	usage := `Session Engine - multi-platform conversation session management

Usage:
  session-engine [flags] <command> [command flags]

Commands:
  serve       Run the engine with all background loops
  status      Show engine status
  sessions    Session management (list, show, delete)
  backup      Backup management (create, restore, verify, list)
  config      Configuration management (show, init)
  help        Show this help message

Global Flags:
  -config     Path to configuration file
  -version    Show version information

Status Command Flags:
  -format     Output format (table, json, simple)
  -health     Include health probes

Examples:
  # Run the engine until interrupted
  session-engine serve

  # Show engine status
  session-engine status

  # Show status with health probes in JSON
  session-engine status -format json -health

  # List sessions on one platform
  session-engine sessions list -platform telegram

  # Show one session
  session-engine sessions show <id>

  # Delete a session and its children
  session-engine sessions delete <id>

  # Create a compressed JSONL backup
  session-engine backup create -format jsonl -compress

  # Restore a backup, merging into existing sessions
  session-engine backup restore <backup-id> -strategy merge

  # Verify a backup archive
  session-engine backup verify <backup-id>

  # Write a default config file
  session-engine config init

Version: %s
`

	fmt.Printf(usage, version)
	return nil
}
