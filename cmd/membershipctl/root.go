package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sparklehome/membership/internal/app"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/tool"
)

// env holds the dependencies commands need. Commands that touch the database
// go through runWithApp so tests can stay offline.
type env struct {
	loadConfig func() (*config.Config, error)
	runWithApp func(ctx context.Context, fn func(*services) error) error
}

type services struct {
	Membership *membership.Service
	Statistics *statistics.Service
}

func defaultEnv() *env {
	return &env{
		loadConfig: config.New,
		runWithApp: runWithCoreApp,
	}
}

// runWithCoreApp starts the domain services, runs fn and stops them.
func runWithCoreApp(ctx context.Context, fn func(*services) error) error {
	var s services
	a := fx.New(app.CoreModule, fx.NopLogger, fx.Populate(&s.Membership, &s.Statistics))
	if err := a.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return err
	}
	runErr := fn(&s)
	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	return errors.Join(runErr, a.Stop(stopCtx))
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "membershipctl",
		Short:         "Operate the membership service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPlansCmd(e),
		newEvaluateCmd(e),
		newSignWebhookCmd(e),
		newSweepCmd(e),
		newSnapshotCmd(e),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTimeFlag(name, v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC3339: %w", name, err)
	}
	return t, nil
}

func newSweepCmd(e *env) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire memberships whose cancellation took effect",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := parseTimeFlag("at", at, time.Now())
			if err != nil {
				return err
			}
			return e.runWithApp(cmd.Context(), func(s *services) error {
				ctx := logctx.WithTraceID(cmd.Context(), tool.NewID())
				res, err := s.Membership.Sweep(ctx, now)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate expiry at this RFC3339 instant instead of now")
	return cmd
}

func newSnapshotCmd(e *env) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the daily membership snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := time.Now().UTC().Truncate(24 * time.Hour).Add(-time.Nanosecond)
			if day != "" {
				t, err := time.Parse(time.DateOnly, day)
				if err != nil {
					return fmt.Errorf("--day must be YYYY-MM-DD: %w", err)
				}
				d = t.Add(24*time.Hour - time.Nanosecond)
			}
			return e.runWithApp(cmd.Context(), func(s *services) error {
				ctx := logctx.WithTraceID(cmd.Context(), tool.NewID())
				n, err := s.Statistics.SaveDailySnapshot(ctx, d)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %d rows for %s\n", n, d.Format(time.DateOnly))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "day to snapshot (YYYY-MM-DD), defaults to yesterday")
	return cmd
}
