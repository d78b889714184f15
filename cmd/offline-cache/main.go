package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFilenameFlag string
	providerFlag       string
	dbFilenameFlag     string
	prefixFlag         string
	generationFlag     string
	verbosityDebugFlag bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

var rootCmd = &cobra.Command{
	Use:   "offline-cache",
	Short: "Offline-first caching proxy for single-page applications",
	Long: `offline-cache sits between an application's clients and its origin.
It precaches the application shell for every deployed version, answers
requests from versioned stores and serves stored or synthetic responses
when the origin cannot be reached.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	if version == "" {
		version = "DEV"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFilenameFlag, "config", "c", "", "Path to config file")
	flags.StringVar(&providerFlag, "provider", "", "Cache provider: memory, sqlite or leveldb (overrides config)")
	flags.StringVar(&dbFilenameFlag, "db", "", "Cache DB file or directory (overrides config)")
	flags.StringVar(&prefixFlag, "prefix", "", "Store name prefix (overrides config)")
	flags.StringVarP(&generationFlag, "generation", "g", "", "Version tag of the deployed application (overrides config)")
	flags.BoolVarP(&verbosityDebugFlag, "verbose", "v", false, "Verbosity: debug logging")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	rootCmd.AddCommand(serveCmd, installCmd, storesCmd, gcCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	// set log level
	logLevel := zerolog.InfoLevel
	if verbosityDebugFlag {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()
	return nil
}

// loadConfig reads the config file and applies the flags on top.
func loadConfig(cmd *cobra.Command) (Config, error) {
	config, err := LoadConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	flags := cmd.Flags()
	if flags.Changed("provider") {
		config.Cache.Provider = providerFlag
	}
	if flags.Changed("db") {
		config.Cache.Path = dbFilenameFlag
	}
	if flags.Changed("prefix") {
		config.Cache.Prefix = prefixFlag
	}
	if flags.Changed("generation") {
		config.Generation.Version = generationFlag
	}
	applyServeFlags(cmd, &config)
	return config, nil
}
