package command

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/cabreplay/internal/monitoring"
	"github.com/banshee-data/cabreplay/internal/replay"
)

// NewIndexCmd inspects an index file.
func NewIndexCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "index FILE",
		Short: "List the time blocks of an index file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := app.readIndex(args[0])
			if err != nil {
				return err
			}
			for _, w := range table.Warnings() {
				monitoring.Warnf("index %s: %s", args[0], w)
			}
			return printBlocks(cmd.OutOrStdout(), table)
		},
	}
}

func (app *App) readIndex(path string) (*replay.IndexTable, error) {
	info, err := app.FS.Stat(path)
	if err != nil {
		return nil, err
	}
	if limit := app.cfg.GetMaxIndexBytes(); info.Size() > limit {
		return nil, fmt.Errorf("index %s is %s, larger than the %s limit",
			path, humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(limit)))
	}
	raw, err := app.FS.ReadFile(path)
	if err != nil {
		return nil, err
	}
	table, err := replay.ParseIndex(string(raw))
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	return table, nil
}

func printBlocks(w io.Writer, table *replay.IndexTable) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tTIME\tRANGE\tSIZE")
	var total int64
	var invalid int
	for _, b := range table.Blocks() {
		switch {
		case b.Err != nil:
			invalid++
			monitoring.Warnf("index: %v", b.Err)
			fmt.Fprintf(tw, "%d\t%g\tinvalid\t-\n", b.Entry, b.SimTime)
		case b.Range.OpenEnded():
			fmt.Fprintf(tw, "%d\t%g\t%s\tto end of log\n", b.Entry, b.SimTime, b.Range)
		default:
			total += b.Range.Len()
			fmt.Fprintf(tw, "%d\t%g\t%s\t%s\n", b.Entry, b.SimTime, b.Range, humanize.IBytes(uint64(b.Range.Len())))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s blocks up to t=%g covering %s\n",
		humanize.Comma(int64(table.BlockCount())), table.MaxSimTime(), humanize.IBytes(uint64(total))); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d blocks have invalid offsets", replay.ErrIndexParse, invalid, table.BlockCount())
	}
	return nil
}
