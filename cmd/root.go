// Package cmd provides the command-line interface for meread.
//
// Configuration System:
//
//	Values are resolved with the following precedence:
//	1. Command-line flags (--address, --theme, etc.) - highest priority
//	2. Individual environment variables (MEREAD_SERVER_ADDRESS, etc.)
//	3. Configuration file: --config, else MEREAD_CONFIG_FILE, else .meread.yml
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	MEREAD_CONFIG_FILE: Path to custom configuration file
//	MEREAD_SERVER_ADDRESS: Override the listen address
//	MEREAD_RENDER_THEME: dark or light
//	And every other key following the MEREAD_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/conneroisu/meread/internal/cache"
	"github.com/conneroisu/meread/internal/config"
	"github.com/conneroisu/meread/internal/export"
	"github.com/conneroisu/meread/internal/logging"
	"github.com/conneroisu/meread/internal/renderer"
	"github.com/conneroisu/meread/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

var rootCmd = newRootCmd(viper.GetViper())

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	theme := renderer.ThemeDark

	cmd := &cobra.Command{
		Use:   "meread [path]",
		Short: "Preview a markdown document with live reload",
		Long: `meread renders a markdown file (or the README.md of a directory) to HTML,
serves it over HTTP, and reloads the browser whenever the file changes.

Examples:
  meread                       # Serve ./README.md on localhost:3000
  meread docs/guide.md -o      # Serve a file and open the browser
  meread -l --title Notes      # Light theme with a custom title
  meread -e site               # Export index.html and assets to ./site`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, args, v)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .meread.yml, can also use MEREAD_CONFIG_FILE env var)")

	flags := cmd.Flags()
	flags.StringP("address", "a", "localhost:3000", "Address to bind the server to")
	flags.BoolP("open", "o", false, "Open the browser on serve")
	flags.Var(&theme, "theme", "Page theme (dark, light)")
	flags.BoolP("light-mode", "l", false, "Render the page in light mode (same as --theme light)")
	flags.String("title", "", "Page title (default: front matter title or file name)")
	flags.Bool("sanitize", false, "Strip unsafe HTML from the rendered document")
	flags.Duration("debounce", 250*time.Millisecond, "Quiet period before a change triggers a rebuild")
	flags.StringP("export-dir", "e", "", "Export the rendered page and assets to this directory instead of serving")
	flags.BoolP("force", "f", false, "Overwrite the export directory if it exists")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")

	flags.SetNormalizeFunc(underscoreToDash)
	bindFlags(v, flags)

	cmd.AddCommand(newVersionCmd())

	return cmd
}

// flagKeys maps configuration keys to the flags that override them.
var flagKeys = map[string]string{
	"server.address":  "address",
	"server.open":     "open",
	"render.theme":    "theme",
	"render.title":    "title",
	"render.sanitize": "sanitize",
	"watch.debounce":  "debounce",
	"export.dir":      "export-dir",
	"export.force":    "force",
	"logging.level":   "log-level",
	"logging.format":  "log-format",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for key, name := range flagKeys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

// underscoreToDash lets --export_dir and --export-dir name the same flag.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// initConfig wires the config file and environment into v.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. MEREAD_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .meread.yml in current directory
//
// A missing default file is not an error; an explicitly named file that
// cannot be read is.
func initConfig(v *viper.Viper, cfgFile string, stderr io.Writer) error {
	explicit := true
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("MEREAD_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".meread")
	}

	// Examples: MEREAD_SERVER_ADDRESS, MEREAD_RENDER_THEME, MEREAD_WATCH_DEBOUNCE
	v.SetEnvPrefix("MEREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	fmt.Fprintln(stderr, "Using config file:", v.ConfigFileUsed())
	return nil
}

func runRoot(cmd *cobra.Command, args []string, v *viper.Viper) error {
	if len(args) == 1 {
		v.Set("path", args[0])
	}
	if light, _ := cmd.Flags().GetBool("light-mode"); light {
		v.Set("render.theme", string(renderer.ThemeLight))
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Export.Dir != "" {
		return runExport(ctx, cfg, logger, cmd.OutOrStdout())
	}
	return runServe(ctx, cfg, logger, cmd.OutOrStdout())
}

func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: out,
	}), nil
}

func runExport(ctx context.Context, cfg *config.Config, logger logging.Logger, out io.Writer) error {
	result, err := export.Run(ctx, export.Options{
		Document: cfg.DocumentPath(),
		Dir:      cfg.Export.Dir,
		Force:    cfg.Export.Force,
		Renderer: renderer.New(renderer.Options{
			Highlight: cfg.Render.Highlight,
			Sanitize:  cfg.Render.Sanitize,
		}),
		Render: cache.Options{
			Title: cfg.Render.Title,
			Theme: cfg.Theme(),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Exported to %s\n", result.Dir)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, logger logging.Logger, out io.Writer) error {
	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
		fmt.Fprintf(out, "Serving %s on http://%s\n", cfg.DocumentPath(), srv.Addr())
	case err := <-errCh:
		shutdown(srv, logger)
		return err
	}

	select {
	case <-ctx.Done():
		shutdown(srv, logger)
		return <-errCh
	case err := <-errCh:
		shutdown(srv, logger)
		return err
	}
}

func shutdown(srv *server.PreviewServer, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error(ctx, err, "Error during server shutdown")
	}
}
