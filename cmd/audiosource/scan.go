package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the music folder once and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			appLogger := ctx.logger()

			lock, err := acquireLock(cfg)
			if err != nil {
				return fmt.Errorf("%w (use POST /api/scan against the running server)", err)
			}
			defer func() { _ = lock.Unlock() }()

			svc, err := buildServices(cfg, appLogger)
			if err != nil {
				return err
			}
			defer func() { _ = svc.db.Close() }()
			defer func() { _ = svc.registry.Shutdown(context.Background()) }()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if _, err := svc.registry.Start(sigCtx, domain.JobKindScan, jobs.Params{Force: force}); err != nil {
				return err
			}

			status, err := svc.registry.Wait(sigCtx, domain.JobKindScan)
			if err != nil {
				// Interrupted: ask the scan to stop at the next folder and report where it ended.
				if _, err := svc.registry.Cancel(domain.JobKindScan); err != nil {
					return err
				}
				if status, err = svc.registry.Wait(context.Background(), domain.JobKindScan); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatScanResult(status))
			if status.State == domain.JobStateError {
				return errors.New("scan failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-read tags of unchanged folders")
	return cmd
}

func formatScanResult(s domain.JobStatus) string {
	line := fmt.Sprintf("Scan %s: %d/%d folders, %d releases", s.State, s.Processed, s.Total, s.ResultCount)
	if s.State == domain.JobStateError && s.ErrorMessage != nil {
		line += ": " + *s.ErrorMessage
	}
	return line
}
