package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"handscribe/internal/config"
)

// app carries resolved configuration and the backend constructors shared by
// the subcommands.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	stdout  io.Writer
	stderr  io.Writer
	getenv  func(string) string
	version string

	newLocal  func(cfg config.Config, log zerolog.Logger) (localService, error)
	newRemote func(cfg config.Config, log zerolog.Logger) (transcriber, error)
}

func newApp(version string, stdout, stderr io.Writer, getenv func(string) string) *app {
	a := &app{
		cfg:     config.Defaults(),
		log:     zerolog.Nop(),
		stdout:  stdout,
		stderr:  stderr,
		getenv:  getenv,
		version: version,
	}
	a.newLocal = func(cfg config.Config, log zerolog.Logger) (localService, error) {
		svc, err := buildLocal(cfg, log, a.getenv, a.version)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	a.newRemote = func(cfg config.Config, log zerolog.Logger) (transcriber, error) {
		c, err := buildRemote(cfg, log, a.getenv)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return a
}

// Execute runs the command tree and returns the process exit code.
func Execute(version string) int {
	a := newApp(version, os.Stdout, os.Stderr, os.Getenv)
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	var cfgPath, logLevel string
	root := &cobra.Command{
		Use:           "handscribe",
		Short:         "Transcribe handwritten images to markdown with Qwen2.5-VL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveConfig(cfgPath, logLevel, cmd.Flags().Changed("log-level"))
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults HANDSCRIBE_LOG_LEVEL or info)")

	root.AddCommand(
		newServeCmd(a),
		newTranscribeCmd(a),
		newCheckCmd(a),
		newModelsCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(a.stdout, "handscribe %s (%s)\n", a.version, runtime.Version())
			},
		},
	)
	return root
}

// resolveConfig applies defaults, the config file, HANDSCRIBE_* variables and
// the --log-level flag, in that order.
func (a *app) resolveConfig(path, logLevel string, levelSet bool) error {
	cfg := config.Defaults()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		loaded.FillDefaults()
		cfg = loaded
	}
	cfg.ApplyEnv(a.getenv)
	if levelSet {
		cfg.LogLevel = logLevel
	}
	a.cfg = cfg
	a.log = newLogger(a.stderr, cfg.LogLevel)
	return nil
}
