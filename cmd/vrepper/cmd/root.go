package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/vrepper/internal/config"
	"github.com/psantana5/vrepper/internal/logging"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	cfgFile      string
	outputFormat string

	v   = viper.New()
	cfg *config.Config
	log *logging.Logger

	// flagKeys maps command flags to config keys, bound when the command runs
	flagKeys = map[*cobra.Command]map[string]string{}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vrepper",
	Short: "Launch and drive V-REP simulator instances",
	Long: `vrepper starts a V-REP simulator on a remote API port, connects to it,
and drives scenes in synchronous mode while recording object poses.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if log != nil {
			return log.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vrepper/config.yaml)")
	flags.StringVar(&outputFormat, "output", "table", "output format: table or json")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("json-logs", false, "write logs as JSON lines")
	flags.String("metrics-addr", "", "serve /metrics, /healthz and /session on this address")

	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
}

// loadConfig reads file, environment and flags into cfg and builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	for flag, key := range flagKeys[cmd] {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}
	if f := cmd.Flags().Lookup("json-logs"); f != nil && f.Changed {
		v.Set("log.format", "json")
	}

	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	l, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	log = l
	return nil
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// bindFlag ties a command flag to a config key so the flag wins when set.
func bindFlag(cmd *cobra.Command, flag, key string) {
	if flagKeys[cmd] == nil {
		flagKeys[cmd] = map[string]string{}
	}
	flagKeys[cmd][flag] = key
}
