package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/vrepper/internal/config"
)

var (
	configInitPath  string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Prints the configuration after merging defaults, the config file, VREPPER_* environment variables and flags.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "where to write (default $HOME/.vrepper/config.yaml)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if IsJSONOutput() {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configInitPath
	if path == "" {
		def, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = def
	}
	if err := config.Save(config.Default(), path, configInitForce); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}
