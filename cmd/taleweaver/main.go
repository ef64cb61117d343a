package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DaanHessen/taleweaver/internal/backend"
	"github.com/DaanHessen/taleweaver/internal/session"
	"github.com/DaanHessen/taleweaver/internal/store"
	"github.com/DaanHessen/taleweaver/internal/ui"
	"github.com/DaanHessen/taleweaver/internal/util"
)

var version = "0.1.0-alpha"

var (
	configPath string
	baseURL    string
	dsn        string
	theme      string
	logFile    string
	dev        bool
	verbose    bool
	remote     bool

	cfg    util.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "taleweaver",
	Short:         "Play AI-narrated interactive stories in the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = util.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)
		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return play(cmd.Context(), ui.ModeMenu, "")
	},
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Open the main menu",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return play(cmd.Context(), ui.ModeMenu, "")
	},
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new story",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return play(cmd.Context(), ui.ModeNew, "")
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [save-key]",
	Short: "Continue a story by its save key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		return play(cmd.Context(), ui.ModeLoad, key)
	},
}

var savesCmd = &cobra.Command{
	Use:   "saves",
	Short: "List locally archived stories",
	Args:  cobra.NoArgs,
	RunE:  listSaves,
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <save-key>",
	Short: "Print an archived story without contacting the service",
	Args:  cobra.ExactArgs(1),
	RunE:  printTranscript,
}

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back archive migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client (and optionally the service) version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "taleweaver", version)
		if !remote {
			return nil
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		v, err := session.RemoteVersion(cmd.Context(), client)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "story service", v)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/taleweaver/config.toml)")
	pf.StringVar(&baseURL, "base-url", "", "story service URL")
	pf.StringVar(&dsn, "dsn", "", "PostgreSQL DSN for the local archive")
	pf.StringVar(&theme, "theme", "", "color theme")
	pf.StringVar(&logFile, "log-file", "", "log file path")
	pf.BoolVar(&dev, "dev", false, "ask the service for development responses")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	versionCmd.Flags().BoolVar(&remote, "remote", false, "also query the story service")

	rootCmd.AddCommand(playCmd, newCmd, loadCmd, savesCmd, transcriptCmd, migrateCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if f.Changed("dsn") {
		cfg.DSN = dsn
	}
	if f.Changed("theme") {
		cfg.Theme = theme
	}
	if f.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if f.Changed("dev") {
		cfg.Dev = dev
	}
	if f.Changed("verbose") {
		cfg.Verbose = verbose
	}
}

// newLogger writes JSON logs to the configured file; the terminal belongs to the UI.
func newLogger(c util.Config) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
		return nil, err
	}
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{c.LogFile}
	config.ErrorOutputPaths = []string{c.LogFile}
	if c.Verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func newClient() (*backend.Client, error) {
	return backend.New(cfg.BaseURL,
		backend.WithRequestTimeout(cfg.RequestTimeout),
		backend.WithLogger(logger.Named("backend")))
}

// openArchive migrates and opens the local archive. Without a DSN there is
// no archive and the returned closer is a no-op.
func openArchive(ctx context.Context) (*store.Archiver, func(), error) {
	if cfg.DSN == "" {
		return nil, func() {}, nil
	}
	mig, err := store.NewMigrator(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := mig.Up(migCtx); err != nil && err != store.ErrNoChange {
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewArchiver(db), func() { _ = db.Close() }, nil
}

func play(ctx context.Context, mode ui.Mode, saveKey string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	archiver, closeArchive, err := openArchive(ctx)
	if err != nil {
		logger.Warn("archive unavailable", zap.Error(err))
		fmt.Fprintln(os.Stderr, "archive unavailable, continuing without it:", err)
		archiver, closeArchive = nil, func() {}
	}
	defer closeArchive()

	logger.Info("starting", zap.String("version", version), zap.String("base_url", cfg.BaseURL), zap.Bool("archive", archiver != nil))
	return ui.Run(ctx, ui.Options{
		Backend:  client,
		Archiver: archiver,
		Logger:   logger.Named("session"),
		Config:   cfg,
		Version:  version,
		Mode:     mode,
		SaveKey:  saveKey,
	})
}

func listSaves(cmd *cobra.Command, args []string) error {
	if cfg.DSN == "" {
		return fmt.Errorf("no archive configured; set DATABASE_URL or --dsn")
	}
	archiver, closeArchive, err := openArchive(cmd.Context())
	if err != nil {
		return err
	}
	defer closeArchive()
	saves, err := archiver.Saves().List(cmd.Context(), 50)
	if err != nil {
		return err
	}
	if len(saves) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no archived stories)")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SAVE KEY\tTITLE\tTURNS\tLAST PLAYED")
	for _, s := range saves {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.SaveKey, s.Title, s.Turns, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func printTranscript(cmd *cobra.Command, args []string) error {
	if cfg.DSN == "" {
		return fmt.Errorf("no archive configured; set DATABASE_URL or --dsn")
	}
	archiver, closeArchive, err := openArchive(cmd.Context())
	if err != nil {
		return err
	}
	defer closeArchive()
	save, err := archiver.Saves().GetByKey(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	turns, err := archiver.Transcripts().Load(cmd.Context(), save.ID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n\n", save.Title)
	for _, t := range turns {
		if t.Writer == session.WriterUser {
			fmt.Fprintf(out, "> %s\n\n", t.Text)
			continue
		}
		fmt.Fprintf(out, "%s\n\n", t.Text)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DSN == "" {
		return fmt.Errorf("no archive configured; set DATABASE_URL or --dsn")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	migrator, err := store.NewMigrator(cfg.DSN)
	if err != nil {
		return err
	}
	switch args[0] {
	case "up":
		if err := migrator.Up(ctx); err != nil && err != store.ErrNoChange {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
	case "down":
		if err := migrator.Down(ctx); err != nil && err != store.ErrNoChange {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations rolled back")
	}
	return nil
}
