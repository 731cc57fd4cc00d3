package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"calgrid/internal/recur"
	"calgrid/internal/view"
)

func newRootCommand() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "calgrid",
		Short:         "Expand, lay out and drag calendar events.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	o.addFlags(cmd)

	cmd.AddCommand(
		newExpandCommand(o),
		newLayoutCommand(o),
		newImportCommand(o),
		newDragCommand(o),
		newServeCommand(o),
	)
	return cmd
}

// windowOptions select the visible window.
type windowOptions struct {
	view   string
	date   string
	events string
}

func (w *windowOptions) addFlags(cmd *cobra.Command, defaultView string) {
	cmd.Flags().StringVar(&w.view, "view", defaultView, "day, week or month")
	cmd.Flags().StringVar(&w.date, "date", "", `Reference date, example: --date="2026-03-04" (default today)`)
	cmd.Flags().StringVar(&w.events, "events", "", "Read events from a JSON file instead of the store")
}

func (w *windowOptions) ref(loc *time.Location) (time.Time, error) {
	if w.date == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, w.date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func newExpandCommand(o *rootOptions) *cobra.Command {
	w := &windowOptions{}
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "List the occurrences of a day, week or month.",
		Example: `
calgrid expand --view week --date 2026-03-04
calgrid expand --events events.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := recur.ParseGranularity(w.view)
			if err != nil {
				return err
			}
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			loc, _ := a.cfg.Location()
			ref, err := w.ref(loc)
			if err != nil {
				return err
			}
			events, err := a.events(cmd.Context(), w.events)
			if err != nil {
				return err
			}

			win := recur.WindowFor(ref, g)
			res := a.newView(events).Occurrences(win)
			if o.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			tbl := uitable.New()
			tbl.Separator = "  "
			addHeader(tbl, "ID", "TITLE", "START", "END", "VIRTUAL")
			for _, occ := range res.Occurrences {
				tbl.AddRow(occ.ID, occ.Event.Title, occ.Start.Format("Mon 2006-01-02 15:04"), occ.End.Format("15:04"), occ.Virtual)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tbl)
			for _, id := range res.Truncated {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "truncated at iteration cap: %s\n", id)
			}
			return nil
		},
	}
	w.addFlags(cmd, string(recur.Week))
	return cmd
}

func newLayoutCommand(o *rootOptions) *cobra.Command {
	w := &windowOptions{}
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show packed columns and grid geometry per day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			loc, _ := a.cfg.Location()
			ref, err := w.ref(loc)
			if err != nil {
				return err
			}
			events, err := a.events(cmd.Context(), w.events)
			if err != nil {
				return err
			}
			v := a.newView(events)

			var days []view.DayLayout
			switch w.view {
			case string(recur.Day):
				days = []view.DayLayout{v.Day(ref)}
			case string(recur.Week):
				if days, err = v.Week(cmd.Context(), ref); err != nil {
					return err
				}
			default:
				return fmt.Errorf("--view must be day or week, got %q", w.view)
			}

			if o.jsonOut {
				return writeJSON(cmd.OutOrStdout(), days)
			}
			tbl := uitable.New()
			tbl.Separator = "  "
			addHeader(tbl, "DAY", "ID", "TITLE", "COLUMN", "TOP", "HEIGHT")
			for _, d := range days {
				for _, occ := range d.AllDay {
					tbl.AddRow(d.Day.Format(time.DateOnly), occ.ID, occ.Event.Title, "all-day", "", "")
				}
				for _, b := range d.Blocks {
					tbl.AddRow(d.Day.Format(time.DateOnly), b.ID, b.Event.Title,
						fmt.Sprintf("%d/%d", b.ColumnIndex+1, b.ColumnCount),
						fmt.Sprintf("%.0f", b.Top), fmt.Sprintf("%.0f", b.Height))
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return nil
		},
	}
	w.addFlags(cmd, string(recur.Day))
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addHeader(tbl *uitable.Table, cols ...string) {
	bold := color.New(color.Bold)
	row := make([]any, len(cols))
	for i, c := range cols {
		row[i] = bold.Sprint(c)
	}
	tbl.AddRow(row...)
}
