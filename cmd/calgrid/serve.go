package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"calgrid/internal/drag"
	appLog "calgrid/internal/log"
	"calgrid/internal/persist"
	"calgrid/internal/view"
	"calgrid/internal/web"
)

func newServeCommand(o *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the occurrence, layout and drag API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				a.cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if sources := a.configuredSources(); len(sources) > 0 {
				a.importSources(ctx, sources)
			}
			events, err := a.store.ListEvents(ctx)
			if err != nil {
				return err
			}
			v := a.newView(events)

			notifier, release := a.notifier()
			defer release()
			committer := persist.NewCommitter(a.store, a.cfg.CommitTimeout())
			defer committer.Wait()
			ctl := drag.New(v, committer, notifier, a.dragConfig())

			loc, _ := a.cfg.Location()
			c := cron.New(cron.WithLocation(loc))
			if _, err := c.AddFunc(a.cfg.RefreshCron, func() { a.refresh(ctx, v) }); err != nil {
				appLog.Error("invalid refresh schedule; periodic reload disabled", err, "refresh", a.cfg.RefreshCron)
			} else {
				c.Start()
				defer func() { <-c.Stop().Done() }()
			}

			appLog.Info("effective config",
				"listen", a.cfg.Listen,
				"timezone", a.cfg.Timezone,
				"db", a.cfg.DBPath,
				"refresh", a.cfg.RefreshCron,
				"ics_count", len(a.cfg.ICS),
				"events", len(events),
				"enforce_rule_bounds", a.cfg.EnforceRuleBounds,
			)
			return web.NewServer(v, ctl, loc).AllowOrigins(a.cfg.CORSOrigins...).ListenAndServe(ctx, a.cfg.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

// refresh re-imports configured sources and swaps the view's event set.
func (a *app) refresh(ctx context.Context, v *view.View) {
	if sources := a.configuredSources(); len(sources) > 0 {
		for _, s := range a.importSources(ctx, sources) {
			if s.Err != "" {
				appLog.Info("refresh: source failed", "source", s.Source, "error", s.Err)
			}
		}
	}
	events, err := a.store.ListEvents(ctx)
	if err != nil {
		appLog.Error("refresh: list events failed", err)
		return
	}
	v.Reload(events)
	appLog.Info("refresh completed", "events", len(events))
}
