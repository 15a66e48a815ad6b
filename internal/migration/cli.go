package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI renders migrator operations for a terminal.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI writes to stdout until SetOutput is called.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// Run dispatches a subcommand by name: up, down, down-all, steps, goto,
// force, version, status or info. steps, goto and force take one integer.
func (c *CLI) Run(ctx context.Context, cmd string, n int) error {
	switch cmd {
	case "up":
		return c.report(ctx, "Applying pending migrations", c.migrator.Up)
	case "down":
		return c.report(ctx, "Rolling back the last migration", c.migrator.Down)
	case "down-all":
		return c.report(ctx, "Rolling back all migrations", c.migrator.DownAll)
	case "steps":
		return c.report(ctx, fmt.Sprintf("Moving %+d migration(s)", n), func(ctx context.Context) error {
			return c.migrator.Steps(ctx, n)
		})
	case "goto":
		if n < 0 {
			return fmt.Errorf("goto: version must not be negative")
		}
		return c.report(ctx, fmt.Sprintf("Migrating to version %d", n), func(ctx context.Context) error {
			return c.migrator.Goto(ctx, uint(n))
		})
	case "force":
		return c.report(ctx, fmt.Sprintf("Forcing version %d", n), func(ctx context.Context) error {
			return c.migrator.Force(ctx, n)
		})
	case "version":
		return c.RunVersion(ctx)
	case "status":
		return c.RunStatus(ctx)
	case "info":
		return c.RunInfo(ctx)
	default:
		return fmt.Errorf("unknown migrate command %q", cmd)
	}
}

func (c *CLI) report(ctx context.Context, banner string, fn func(context.Context) error) error {
	fmt.Fprintln(c.output, banner+"...")
	if err := fn(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Done. Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.output, "Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.output, "Migration info:")
	fmt.Fprintf(c.output, "  Current version:    %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "  Dirty:              %v\n", info.Dirty)
	fmt.Fprintf(c.output, "  Total migrations:   %d\n", info.TotalMigrations)
	fmt.Fprintf(c.output, "  Applied migrations: %d\n", info.AppliedMigrations)
	fmt.Fprintf(c.output, "  Pending migrations: %d\n", info.PendingMigrations)
	return nil
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
