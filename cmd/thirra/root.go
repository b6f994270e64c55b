package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
)

var (
	// Global flags
	cfgFile  string
	pretty   bool
	logLevel string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "thirra",
	Short: "Thirra - conversational memory and context assembly for LLM chat",
	Long: `Thirra keeps per-conversation memory (recent turns, a rolling summary, extracted
facts and a semantic index), fits it into a character budget, routes every query to a
cheap, quality or premium model and parses the structured reply.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg.App.LogLevel)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: search ./config.yaml and the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-friendly console logs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override app.log_level")
}

func newLogger(configured string) zerolog.Logger {
	name := configured
	if logLevel != "" {
		name = logLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Logger()
}
