package command

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/cabreplay/internal/history"
	"github.com/banshee-data/cabreplay/internal/units"
)

// NewSessionsCmd lists or deletes recorded playback sessions.
func NewSessionsCmd(app *App) *cobra.Command {
	var deleteID string
	cmd := &cobra.Command{
		Use:   "sessions DB",
		Short: "List playback sessions recorded in a history database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if deleteID != "" {
				if err := store.DeleteSession(deleteID); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %s\n", deleteID)
				return nil
			}

			sessions, err := store.Sessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no sessions")
				return nil
			}
			now := app.Clock.Now()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tBLOCKS\tSIM TIME\tSTATUS")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%g\t%s\n",
					s.ID, s.Name, humanize.RelTime(s.StartedAt, now, "ago", "from now"),
					s.Applied, s.Blocks, s.MaxSimTime, sessionStatus(s))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&deleteID, "delete", "", "delete the session with this id")
	return cmd
}

func sessionStatus(s history.Session) string {
	switch {
	case s.Error != "":
		return "failed: " + s.Error
	case s.FinishedAt.IsZero():
		return "incomplete"
	}
	return "complete"
}

// NewTrackCmd prints one agent's positions from a recorded session with
// the speed between consecutive points. Simulation time is in seconds.
func NewTrackCmd(app *App) *cobra.Command {
	var unit string
	cmd := &cobra.Command{
		Use:   "track DB SESSION AGENT",
		Short: "Print the recorded path of one agent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := units.Validate(unit); err != nil {
				return err
			}
			agentID, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid agent id %q: %w", args[2], err)
			}
			store, err := history.Open(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			points, err := store.Track(args[1], agentID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(points) == 0 {
				fmt.Fprintf(out, "agent %d not seen in session %s\n", agentID, args[1])
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tBLOCK\tLAT\tLON\tSTATUS\tSPEED (%s)\n", unit)
			var total float64
			for i, p := range points {
				speed := "-"
				if i > 0 {
					prev := points[i-1]
					d := units.Distance(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
					total += d
					speed = fmt.Sprintf("%.1f", units.ConvertSpeed(units.Speed(d, p.SimTime-prev.SimTime), unit))
				}
				fmt.Fprintf(tw, "%g\t%d\t%.6f\t%.6f\t%s\t%s\n", p.SimTime, p.EntryIndex/2, p.Latitude, p.Longitude, p.Status, speed)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%d points, %s m travelled\n", len(points), humanize.CommafWithDigits(total, 0))
			return err
		},
	}
	cmd.Flags().StringVar(&unit, "units", units.KPH, "speed unit: "+strings.Join(units.ValidUnits, ", "))
	return cmd
}
