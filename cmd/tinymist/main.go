package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/uros-5/tinymist/internal/config"
	"github.com/uros-5/tinymist/internal/server"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

var (
	flagConfig    string
	flagLogFile   string
	flagVerbosity int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "tinymist",
	Short:         "Language server for Typst documents",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "logfile", "", "path to log file (default: stderr)")
	rootCmd.PersistentFlags().IntVarP(&flagVerbosity, "verbose", "v", -1, "log verbosity (default: from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config when given and applies the logging flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.LoadFile(flagConfig); err != nil {
			return config.Config{}, err
		}
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if flagVerbosity >= 0 {
		cfg.Verbosity = flagVerbosity
	}

	var path *string
	if cfg.LogFile != "" {
		path = &cfg.LogFile
	}
	commonlog.Configure(cfg.Verbosity, path)
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		// The client's initializationOptions configure the engine.
		return server.NewServer(Version, false).RunStdio()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tinymist version %s\n", Version)
	},
}
