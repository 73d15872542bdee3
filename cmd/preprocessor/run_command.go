package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/baldanca/petition-preprocessor/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	var lockPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run both preprocessing stages once, or every --interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < 0 {
				return fmt.Errorf("--interval must not be negative")
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			if lockPath != "" {
				lock := flock.New(lockPath)
				locked, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("acquire run lock %s: %w", lockPath, err)
				}
				if !locked {
					logger.Info("another run holds the lock, skipping", "lock", lockPath)
					return nil
				}
				defer func() { _ = lock.Unlock() }()
			}

			cfg, _ := ctx.ensureConfig()
			rt, err := openRuntime(runCtx, cfg, logger, ctx.output())
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := rt.pipeline()
			if err != nil {
				return err
			}

			for {
				rep, runErr := p.Run(runCtx)
				fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep))
				if interval == 0 {
					return runErr
				}
				if runErr != nil {
					logger.Error("preprocessing run failed", "error", runErr)
				}

				select {
				case <-runCtx.Done():
					if errors.Is(runCtx.Err(), context.Canceled) {
						return nil
					}
					return runCtx.Err()
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the run at this interval until interrupted (0 runs once)")
	cmd.Flags().StringVar(&lockPath, "lock", "", "Skip the run when this lock file is held by another process")
	return cmd
}

func renderReport(rep pipeline.Report) string {
	row := func(stage string, s pipeline.StageReport) []string {
		return []string{
			stage,
			strconv.Itoa(s.Claimed),
			strconv.Itoa(s.Dropped),
			strconv.Itoa(s.Duplicates),
			strconv.Itoa(s.Written),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Removed),
			s.Duration.Round(time.Millisecond).String(),
		}
	}
	return renderTable(
		[]string{"stage", "claimed", "dropped", "duplicates", "written", "failed", "removed", "duration"},
		[][]string{
			row(pipeline.StageSignatures, rep.Signatures),
			row(pipeline.StageValidations, rep.Validations),
		},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}
