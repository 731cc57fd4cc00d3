package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"calgrid/internal/drag"
	"calgrid/internal/notify"
	"calgrid/internal/persist"
)

type dragResult struct {
	SessionID string `json:"sessionId"`
	CommitID  string `json:"commitId"`
	EventID   string `json:"eventId"`
	Kind      string `json:"kind"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Error     string `json:"error,omitempty"`
}

func newDragCommand(o *rootOptions) *cobra.Command {
	var (
		dy     float64
		resize bool
	)
	cmd := &cobra.Command{
		Use:   "drag <occurrence-id>",
		Short: "Move or resize a stored event by dy grid pixels and persist it.",
		Example: `
calgrid drag review --dy 37
calgrid drag review --resize --dy -50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open()
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.ListEvents(cmd.Context())
			if err != nil {
				return err
			}
			v := a.newView(events)
			committer := persist.NewCommitter(a.store, a.cfg.CommitTimeout())
			notifier, release := a.notifier()
			defer release()

			var (
				mu      sync.Mutex
				outcome notify.Notification
			)
			capture := notify.Func(func(_ context.Context, n notify.Notification) error {
				mu.Lock()
				defer mu.Unlock()
				outcome = n
				return nil
			})
			ctl := drag.New(v, committer, notify.Multi{notifier, capture}, a.dragConfig())

			target := drag.TargetBody
			if resize {
				target = drag.TargetResizeHandle
			}
			sess, err := ctl.OnDragStart(drag.Pointer{Y: 0, OccurrenceID: args[0], Target: target})
			if err != nil {
				return err
			}
			if sess, err = ctl.OnDragMove(drag.Pointer{Y: dy}); err != nil {
				return err
			}

			commitID, err := ctl.OnDragEnd(drag.Pointer{Y: dy})
			if err != nil {
				return err
			}
			// Persistence resolves on a committer goroutine.
			committer.Wait()

			result := dragResult{
				SessionID: sess.ID,
				CommitID:  commitID,
				EventID:   sess.EventID,
				Kind:      string(sess.Kind),
				Start:     sess.Start.Format("2006-01-02 15:04"),
				End:       sess.End.Format("2006-01-02 15:04"),
			}
			mu.Lock()
			if outcome.Level == notify.LevelError {
				result.Error = outcome.Message
			}
			mu.Unlock()

			if o.jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			tbl := uitable.New()
			tbl.Separator = "  "
			errCell := result.Error
			if errCell != "" {
				errCell = color.New(color.FgRed).Sprint(errCell)
			}
			addHeader(tbl, "EVENT", "KIND", "START", "END", "COMMIT", "ERROR")
			tbl.AddRow(result.EventID, result.Kind, result.Start, result.End, result.CommitID, errCell)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tbl)
			if result.Error != "" {
				return fmt.Errorf("drag %s: %s", result.EventID, result.Error)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&dy, "dy", 0, "Vertical pointer delta in grid pixels")
	cmd.Flags().BoolVar(&resize, "resize", false, "Drag the resize handle instead of the body")
	return cmd
}
