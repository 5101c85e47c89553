// Package cli implements the sitechat command line: the realtime server,
// schema migration and a development helper that mints session tokens.
package cli

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-sitechat/internal/config"
	"github.com/tbourn/go-sitechat/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

var (
	envFile  string
	logLevel string

	// loaded by PersistentPreRunE
	cfg config.Config
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitechat",
		Short: "sitechat realtime chat and call signaling core",
		Long:  "sitechat serves embeddable website chat: widget and operator sockets, durable message delivery, presence and call signaling.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := loadEnv(envFile); err != nil {
				return err
			}
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			setupLogging(cfg)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env when present)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		log.Error().Err(err).Msg("sitechat failed")
	}
	return err
}

// loadEnv reads path into the process environment without overriding
// variables that are already set. An explicit path must exist; the implicit
// .env is optional.
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func setupLogging(c config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(c.LogLevel)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sitechat version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version)
		},
	}
}
