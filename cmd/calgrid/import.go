package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

type importSummary struct {
	Source    string `json:"source"`
	Imported  int    `json:"imported"`
	Rejected  int    `json:"rejected"`
	Overrides int    `json:"overrides"`
	ExDates   int    `json:"exdates"`
	Err       string `json:"error,omitempty"`
}

func newImportCommand(o *rootOptions) *cobra.Command {
	var calendarID string
	cmd := &cobra.Command{
		Use:   "import [file.ics|file.json|https://feed ...]",
		Short: "Import events into the store.",
		Long: `Import events from iCalendar files or feeds, or from JSON event
files. Without arguments the sources under "ics" in the config are imported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			sources := make([]ics.Source, 0, len(args))
			for i, arg := range args {
				id := calendarID
				if id == "" {
					id = fmt.Sprintf("cli-%d", i+1)
				}
				sources = append(sources, ics.Source{ID: id, URL: arg})
			}
			if len(sources) == 0 {
				sources = a.configuredSources()
			}
			if len(sources) == 0 {
				return fmt.Errorf("nothing to import: pass sources or configure ics")
			}

			summaries := a.importSources(cmd.Context(), sources)
			if o.jsonOut {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			tbl := uitable.New()
			tbl.Separator = "  "
			addHeader(tbl, "SOURCE", "IMPORTED", "REJECTED", "OVERRIDES", "EXDATES", "ERROR")
			for _, s := range summaries {
				tbl.AddRow(s.Source, s.Imported, s.Rejected, s.Overrides, s.ExDates, s.Err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return nil
		},
	}
	cmd.Flags().StringVar(&calendarID, "calendar", "", "Calendar id for imported ICS events")
	return cmd
}

func (a *app) configuredSources() []ics.Source {
	out := make([]ics.Source, 0, len(a.cfg.ICS))
	for _, c := range a.cfg.ICS {
		if c.URL != "" {
			out = append(out, ics.Source{ID: c.ID, URL: c.URL})
		}
	}
	return out
}

// importSources upserts every source independently; one failing source
// does not stop the others.
func (a *app) importSources(ctx context.Context, sources []ics.Source) []importSummary {
	loc, _ := a.cfg.Location()
	fetcher := ics.NewFetcher(a.cfg.ICSCacheDir)

	out := make([]importSummary, 0, len(sources))
	for _, src := range sources {
		sum := importSummary{Source: src.URL}
		if src.Remote() {
			sum.Source = src.ID
		}

		var events []model.Event
		if strings.EqualFold(filepath.Ext(src.URL), ".json") && !src.Remote() {
			evs, err := a.events(ctx, src.URL)
			if err != nil {
				sum.Err = err.Error()
				out = append(out, sum)
				continue
			}
			events = evs
		} else {
			res, err := fetcher.Fetch(ctx, src)
			if err != nil {
				sum.Err = err.Error()
				out = append(out, sum)
				continue
			}
			imp, err := ics.Parse(src, res.Body, loc)
			if err != nil {
				sum.Err = err.Error()
				out = append(out, sum)
				continue
			}
			events = imp.Events
			sum.Rejected, sum.Overrides, sum.ExDates = len(imp.Rejected), imp.Overrides, imp.ExDates
		}

		if err := a.store.UpsertEvents(ctx, events); err != nil {
			sum.Err = err.Error()
			appLog.Error("import upsert failed", err, "source", sum.Source)
		} else {
			sum.Imported = len(events)
		}
		out = append(out, sum)
	}
	return out
}
