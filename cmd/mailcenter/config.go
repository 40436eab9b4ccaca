package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskflow/mailcenter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/mailcenter/config.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Workspace: %s (%s)\n", cfg.Workspace.Name, cfg.Workspace.AppURL)
	fmt.Printf("  Mail provider: %s\n", cfg.Mailer.Provider)
	fmt.Printf("  History path: %s\n", cfg.History.Path)
	fmt.Printf("  Session TTL: %s\n", cfg.Campaign.SessionTTL)

	return nil
}
