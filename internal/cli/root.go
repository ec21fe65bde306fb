// Package cli implements the easel command-line interface: the HTTP server
// and direct canvas, backup, settings and thread commands against the
// configured store.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/easel/internal/paths"
	"github.com/mesh-intelligence/easel/pkg/easel"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	backend   string
	dsn       string
	redisURL  string
	logLevel  string
	user      string
	jsonMode  bool
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags     rootFlags
	v         *viper.Viper
	configDir string
}

// NewRootCmd creates the top-level "easel" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "easel",
		Short:         "Versioned storage for branching conversation canvases",
		Long:          "easel stores conversation canvases with optimistic versioning, conflict merging,\nbackups and thread checkpoints, and serves them over HTTP.",
		Version:       easel.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $EASEL_CONFIG_DIR or the platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.easel-db)")
	pf.StringVar(&a.flags.backend, "backend", "", "storage backend: sqlite or postgres")
	pf.StringVar(&a.flags.dsn, "dsn", "", "connection string (required for postgres)")
	pf.StringVar(&a.flags.redisURL, "redis-url", "", "redis URL for the metadata cache")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.user, "user", "", "user id the command acts as (default: $EASEL_USER)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newServeCmd(a),
		newCanvasCmd(a),
		newBackupCmd(a),
		newSettingsCmd(a),
		newThreadCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "easel:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// userError marks failures caused by the invocation rather than the system.
type userError struct{ error }

func (e userError) Unwrap() error { return e.error }

func usageErrorf(format string, args ...any) error {
	return userError{errors.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ue userError
	if errors.As(err, &ue) {
		return exitUserError
	}
	return exitSysError
}

// setup resolves the config directory, loads config.yaml and configures
// the global logger.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return errors.Wrap(err, "resolve config dir")
	}
	v, err := loadConfig(dir)
	if err != nil {
		return err
	}
	for flag, key := range map[string]string{
		"data-dir":  cfgKeyDataDir,
		"backend":   cfgKeyBackend,
		"dsn":       cfgKeyDSN,
		"redis-url": cfgKeyRedisURL,
		"log-level": cfgKeyLogLevel,
		"user":      cfgKeyUser,
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	a.v = v
	a.configDir = dir
	return setupLogging(cmd.ErrOrStderr(), v.GetString(cfgKeyLogLevel))
}

func setupLogging(w io.Writer, level string) error {
	lvl := zerolog.WarnLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return usageErrorf("invalid log level %q", level)
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	return nil
}
