// Command hostbench is the host-side test harness: it opens every serial
// link named in a roster file, registers a task table shared across them,
// and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mculink/hostbench/examples/elevator"
	"github.com/mculink/hostbench/host"
	"github.com/mculink/hostbench/internal/diagnostics"
	"github.com/mculink/hostbench/internal/hostconfig"
	"github.com/mculink/hostbench/internal/tasktable"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := hostconfig.ParseFlags(nil)
	if err != nil {
		return fmt.Errorf("hostbench: %w", err)
	}

	roster, err := hostconfig.LoadRoster(flags.RosterFile)
	if err != nil {
		return fmt.Errorf("hostbench: %w", err)
	}

	dir := flags.LogDir
	if dir == "" {
		dir = roster.Diagnostics.Dir
	}
	diag := diagnostics.New(diagnostics.Options{
		Dir:     dir,
		Pattern: roster.Diagnostics.Pattern,
	})
	defer diag.Close()

	tasks := tasktable.New()
	car := elevator.NewCar(diag)
	if err := elevator.RegisterHandlers(tasks, car, "shared"); err != nil {
		return fmt.Errorf("hostbench: %w", err)
	}

	h := host.New(diag)
	for _, linkCfg := range roster.Links {
		if _, err := h.OpenLink(linkCfg, tasks); err != nil {
			return fmt.Errorf("hostbench: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := h.CloseAll(); err != nil {
			diag.Error("hostbench: error closing links", "error", err)
		}
	}()

	// Block until every MCU has reported ALERT_MCU_SETUP_COMPLETION, the
	// same handshake main.py/config.py wait through before running the
	// rest of the testbed.
	if err := h.WaitMcuSetupComplete(ctx); err != nil {
		return fmt.Errorf("hostbench: waiting for MCU setup: %w", err)
	}
	diag.Print("hostbench", "STARTUP", "all links reported setup complete")

	if err := h.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("hostbench: %w", err)
	}
	return nil
}
