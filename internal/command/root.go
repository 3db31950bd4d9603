// Package command implements the cabreplay command line.
package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cabreplay/internal/config"
	"github.com/banshee-data/cabreplay/internal/fsutil"
	"github.com/banshee-data/cabreplay/internal/monitoring"
	"github.com/banshee-data/cabreplay/internal/timeutil"
	"github.com/banshee-data/cabreplay/internal/version"
)

const AppName = "cabreplay"

// App holds the dependencies commands run against. Tests swap in memory
// implementations.
type App struct {
	FS    fsutil.FileSystem
	Clock timeutil.Clock

	// Env overrides the process environment for CABREPLAY_* lookups.
	Env map[string]string

	// OutputDirs limits where exports may be written. Empty means the
	// working directory or the temp directory.
	OutputDirs []string

	cfg *config.PlaybackConfig
}

// DefaultApp uses the real filesystem, clock and environment.
func DefaultApp() *App {
	return &App{FS: fsutil.OSFileSystem{}, Clock: timeutil.RealClock{}}
}

// NewRootCmd builds the command tree.
func NewRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Replay recorded cab simulation logs",
		Long:          "cabreplay plays back a cab simulation log block by block using its time index.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}
	cmd.Version = version.Version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")

	cmd.PersistentFlags().String("config", "", "playback config JSON file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "log format (text or json)")

	cmd.AddCommand(
		NewIndexCmd(app),
		NewPlayCmd(app),
		NewSessionsCmd(app),
		NewTrackCmd(app),
		NewVersionCmd(),
	)
	return cmd
}

// setup loads configuration (file, then environment, then flags) and
// installs the logger.
func (app *App) setup(cmd *cobra.Command) error {
	cfg := config.DefaultPlaybackConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadPlaybackConfig(app.FS, path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(app.Env); err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = &v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = &v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	app.cfg = cfg
	monitoring.UseLogrus(monitoring.NewLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), cmd.ErrOrStderr()))
	return nil
}

// NewVersionCmd prints build metadata.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
