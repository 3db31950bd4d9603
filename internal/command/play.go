package command

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/cabreplay/internal/geojson"
	"github.com/banshee-data/cabreplay/internal/history"
	"github.com/banshee-data/cabreplay/internal/monitoring"
	"github.com/banshee-data/cabreplay/internal/replay"
	"github.com/banshee-data/cabreplay/internal/report"
	"github.com/banshee-data/cabreplay/internal/security"
)

type playOptions struct {
	interval   time.Duration
	lenient    bool
	seek       float64
	historyDB  string
	reportPath string
	geoPath    string
	outDir     string
	quiet      bool
}

// NewPlayCmd plays a recording given as its log and index files, in either
// order.
func NewPlayCmd(app *App) *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play FILE FILE",
		Short: "Play a recording block by block",
		Long: `Play a recording block by block.

The two files are the simulation log and its index; the index is the one
whose name ends in the configured suffix (default "_index").`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("interval") {
				opts.interval = app.cfg.GetStepInterval()
			}
			if !flags.Changed("history") {
				opts.historyDB = app.cfg.GetHistoryDB()
			}
			if !flags.Changed("seek") {
				opts.seek = -1
			}
			return app.play(cmd, args, opts)
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&opts.interval, "interval", time.Second, "wall time between blocks; 0 plays as fast as possible")
	flags.BoolVar(&opts.lenient, "lenient", false, "skip malformed log lines instead of failing")
	flags.Float64Var(&opts.seek, "seek", 0, "apply every block up to this simulation time and stop")
	flags.StringVar(&opts.historyDB, "history", "", "record the playback in this SQLite database")
	flags.StringVar(&opts.reportPath, "report", "", "write an HTML chart of the playback")
	flags.StringVar(&opts.geoPath, "geojson", "", "write the final agent positions as GeoJSON")
	flags.StringVar(&opts.outDir, "out", "", "write the report and GeoJSON into this directory")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print each block")
	return cmd
}

func (app *App) play(cmd *cobra.Command, args []string, opts playOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	files := make([]replay.NamedFile, 0, len(args))
	for _, name := range args {
		f, err := app.FS.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, replay.NamedFile{Name: name, File: f})
	}
	_, logFile, err := replay.SelectFiles(files, app.cfg.GetIndexSuffix())
	if err != nil {
		return err
	}
	recording := strings.TrimSuffix(filepath.Base(logFile.Name), filepath.Ext(logFile.Name))
	if opts.outDir != "" {
		if opts.reportPath == "" {
			opts.reportPath = filepath.Join(opts.outDir, security.ExportName(recording, "report", ".html"))
		}
		if opts.geoPath == "" {
			opts.geoPath = filepath.Join(opts.outDir, security.ExportName(recording, "geo", ".json"))
		}
	}
	// Reject bad output paths before spending time on playback.
	for _, p := range []string{opts.reportPath, opts.geoPath} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p, app.OutputDirs...); err != nil {
			return err
		}
	}

	sched := &replay.GoroutineScheduler{}
	engine := replay.NewEngine(replay.Options{
		Scheduler:      sched,
		LenientRecords: opts.lenient || !app.cfg.GetStrictRecords(),
		IndexSuffix:    app.cfg.GetIndexSuffix(),
		MaxIndexBytes:  app.cfg.GetMaxIndexBytes(),
	})
	defer func() {
		engine.Close()
		sched.Wait()
	}()

	if !opts.quiet {
		engine.AddListener(&progress{w: out})
	}
	var collector *report.Collector
	if opts.reportPath != "" {
		collector = report.NewCollector()
		engine.AddListener(collector)
	}
	var recorder *history.Recorder
	if opts.historyDB != "" {
		store, err := history.Open(opts.historyDB)
		if err != nil {
			return err
		}
		defer store.Close()
		store.SetClock(app.Clock)
		recorder, err = store.NewRecorder(recording)
		if err != nil {
			return err
		}
		engine.AddListener(recorder)
	}

	if err := engine.OpenFiles(files); err != nil {
		return err
	}
	table := engine.Table()
	monitoring.Logf("playing %s: %d blocks up to t=%g", recording, table.BlockCount(), table.MaxSimTime())

	var playErr error
	if opts.seek >= 0 {
		if err := engine.SeekTo(opts.seek); err != nil {
			return err
		}
		sched.Wait()
		if engine.State() == replay.StateError {
			playErr = engine.Err()
		}
	} else {
		player := &replay.Player{Engine: engine, Clock: app.Clock, Interval: opts.interval}
		playErr = player.Run(ctx)
	}
	// Let the final prefetch settle so listeners have seen everything.
	sched.Wait()

	cur := engine.Cursor()
	agents := engine.Snapshot()
	fmt.Fprintf(out, "%s: applied %s of %s blocks, %s agents, t=%g of %g\n",
		engine.State(), humanize.Comma(int64(cur.Applied)), humanize.Comma(int64(cur.Blocks)),
		humanize.Comma(int64(len(agents))), cur.SimTime, cur.MaxSimTime)
	if recorder != nil {
		if err := recorder.Err(); err != nil {
			return err
		}
		fmt.Fprintf(out, "history session %s\n", recorder.ID())
	}

	if opts.geoPath != "" {
		if err := app.writeOutput(opts.geoPath, func(w io.Writer) error {
			return geojson.Write(w, agents, geojson.DefaultPalette)
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", opts.geoPath)
	}
	if collector != nil {
		title := fmt.Sprintf("%s replay", recording)
		if err := app.writeOutput(opts.reportPath, func(w io.Writer) error {
			return report.Render(w, title, collector.Summary())
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", opts.reportPath)
	}
	return playErr
}

// writeOutput creates path through the app filesystem, making its parent
// directory first.
func (app *App) writeOutput(path string, write func(io.Writer) error) error {
	if err := security.ValidateOutputPath(path, app.OutputDirs...); err != nil {
		return err
	}
	if err := app.FS.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := app.FS.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// progress prints one line per applied block.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progress) AgentsChanged(ev replay.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.EntryIndex < 0 {
		fmt.Fprintf(p.w, "seeded %d agents\n", len(ev.Agents))
		return
	}
	fmt.Fprintf(p.w, "t=%-8g block %-4d %d agents changed\n", ev.SimTime, ev.EntryIndex/2, len(ev.Agents))
}

func (p *progress) SessionComplete(c replay.Cursor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "complete after %d blocks\n", c.Applied)
}

func (p *progress) SessionFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "failed: %v\n", err)
}
