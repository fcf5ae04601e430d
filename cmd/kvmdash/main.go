package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kvmdash/internal/app"
	"kvmdash/internal/config"
	"kvmdash/internal/schedule"
	"kvmdash/pkg/logx"
	"kvmdash/pkg/systemd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "kvmdash",
		Short:         "PiKVM dashboard backend: schedules, action log, uptime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (JSON or YAML); built-in defaults when empty")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the schedule checker",
			RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context(), cfgPath) },
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the config file and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if cfgPath == "" {
					return errors.New("--config is required")
				}
				if _, err := config.NewConfigManager(cfgPath, logx.Nop()).Parse(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "config ok")
				return nil
			},
		},
		newSchedulesCmd(&cfgPath),
	)
	return root
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	log := a.Logger()
	if _, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	go func() { _ = systemd.Watchdog(ctx) }()

	reason := app.StopSIGTERM
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-a.Failed():
		reason = app.StopFatalError
	}
	_, _ = systemd.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newSchedulesCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "schedules", Short: "Inspect stored schedules"}
	cmd.AddCommand(&cobra.Command{
		Use:   "next",
		Short: "Print the next firing time of every stored schedule",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()

			list, err := a.Schedules().Load(c.Context())
			if err != nil {
				return err
			}
			printNext(c, a.Calculator(), list, time.Now())
			return nil
		},
	})
	return cmd
}

func printNext(c *cobra.Command, calc *schedule.Calculator, list []schedule.Schedule, now time.Time) {
	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPC\tACTION\tFREQUENCY\tNEXT")
	for _, s := range list {
		freq := "once"
		if s.IsRecurring {
			freq = string(s.Frequency)
		}
		var next string
		if t, err := calc.Next(s, now); err != nil {
			next = "error: " + err.Error()
		} else {
			next = t.In(calc.Location()).Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.PCName, schedule.Describe(s.Action, s.Shortcut()), freq, next)
	}
	_ = w.Flush()
}
