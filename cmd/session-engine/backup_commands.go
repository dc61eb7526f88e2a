package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/display"
)

// backupCommand handles backup management subcommands.
type backupCommand struct {
	configPath string
}

// Execute runs the backup command.
func (c *backupCommand) Execute(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "create":
		return c.runCreate(subargs)
	case "restore":
		return c.runRestore(subargs)
	case "verify":
		return c.runVerify(subargs)
	case "list":
		return c.runList(subargs)
	case "delete":
		return c.runDelete(subargs)
	case "help":
		return c.showHelp()
	default:
		return fmt.Errorf("unknown backup subcommand: %s", subcommand)
	}
}

// runCreate creates a new backup.
func (c *backupCommand) runCreate(args []string) error {
	fs := flag.NewFlagSet("backup create", flag.ExitOnError)
	format := fs.String("format", "json", "archive format (json, jsonl, yaml, csv)")
	compress := fs.Bool("compress", false, "gzip the archive")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	meta, err := sys.Backups().CreateBackup(context.Background(), backup.Options{
		Format:   backup.Format(*format),
		Compress: *compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	fmt.Printf("Created backup %s (%d sessions, %d bytes)\n",
		meta.ID, meta.SessionCount, meta.SizeBytes)
	return nil
}

// runRestore restores a backup into the store.
func (c *backupCommand) runRestore(args []string) error {
	fs := flag.NewFlagSet("backup restore", flag.ExitOnError)
	strategy := fs.String("strategy", "replace", "restore strategy (replace, skip_existing, merge)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: session-engine backup restore <backup-id> [-strategy <strategy>]")
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	result, err := sys.Backups().RestoreBackup(context.Background(), fs.Arg(0), backup.Strategy(*strategy))
	if err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	if !result.ChecksumValid {
		fmt.Println("WARNING: checksum mismatch, archive may be corrupted")
	}
	if result.PreBackupID != "" {
		fmt.Printf("Pre-restore backup: %s\n", result.PreBackupID)
	}

	fmt.Printf("Restored %d, skipped %d, failed %d\n",
		result.Restored, result.Skipped, result.Failed)
	for _, e := range result.Errors {
		fmt.Printf("  - %s\n", e)
	}
	return nil
}

// runVerify checks a backup against its catalog entry.
func (c *backupCommand) runVerify(args []string) error {
	fs := flag.NewFlagSet("backup verify", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: session-engine backup verify <backup-id>")
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	result, err := sys.Backups().VerifyIntegrity(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to verify backup: %w", err)
	}

	check := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAILED"
	}

	fmt.Printf("Backup %s\n", result.BackupID)
	fmt.Printf("  checksum: %s\n", check(result.ChecksumValid))
	fmt.Printf("  size:     %s\n", check(result.SizeValid))
	fmt.Printf("  count:    %s\n", check(result.CountValid))

	if !result.Valid {
		return fmt.Errorf("backup %s failed verification", result.BackupID)
	}

	fmt.Println("Backup is valid")
	return nil
}

// runList lists cataloged backups.
func (c *backupCommand) runList(args []string) error {
	fs := flag.NewFlagSet("backup list", flag.ExitOnError)
	format := fs.String("format", "table", "output format (table, json, simple)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	backups, err := sys.Backups().ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	formatter := display.New(display.Config{
		Format:         parseFormat(*format),
		ShowTimestamps: true,
	})
	return formatter.FormatBackups(os.Stdout, backups)
}

// runDelete removes a backup archive.
func (c *backupCommand) runDelete(args []string) error {
	fs := flag.NewFlagSet("backup delete", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: session-engine backup delete <backup-id>")
	}

	_, sys, err := newSystem(c.configPath)
	if err != nil {
		return err
	}
	defer sys.Close() // nolint:errcheck

	id := fs.Arg(0)
	if err := sys.Backups().DeleteBackup(id); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	fmt.Printf("Deleted backup %s\n", id)
	return nil
}

// showHelp displays help for the backup command.
func (c *backupCommand) showHelp() error {
	help := `Backup - backup management

Usage:
  session-engine backup <subcommand> [flags]

Subcommands:
  create    Create a new backup
  restore   Restore a backup into the store
  verify    Verify a backup archive
  list      List cataloged backups
  delete    Delete a backup

Create Flags:
  -format     Archive format (json, jsonl, yaml, csv) (default: json)
  -compress   Gzip the archive

Restore Flags:
  -strategy   Restore strategy (replace, skip_existing, merge) (default: replace)

List Flags:
  -format     Output format (table, json, simple)

Examples:
  # Create a compressed JSONL backup
  session-engine backup create -format jsonl -compress

  # Restore, keeping existing sessions
  session-engine backup restore backup_20240101T100000_abcd1234 -strategy skip_existing

  # Verify an archive
  session-engine backup verify backup_20240101T100000_abcd1234

  # List backups
  session-engine backup list
`
	fmt.Print(help)
	return nil
}
