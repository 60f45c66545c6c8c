package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gassist/plugin-engine/internal/engine"
)

// initConfigDoc mirrors engine.Config's mapstructure tags with yaml tags
// of the same names, so the scaffolded file is a valid input to
// loadViper's config.
type initConfigDoc struct {
	PluginEngine struct {
		PluginsDir        string `yaml:"plugins_dir"`
		LogDir            string `yaml:"log_dir"`
		InitializeTimeout string `yaml:"initialize_timeout"`
		MCPGracePeriod    string `yaml:"mcp_grace_period"`
		ExecTimeout       string `yaml:"exec_timeout"`
		SessionTimeout    string `yaml:"session_timeout"`
		InputAckTimeout   string `yaml:"input_ack_timeout"`
		GracefulShutdown  string `yaml:"graceful_shutdown"`
		ForceShutdown     string `yaml:"force_shutdown"`
		ManifestDebounce  string `yaml:"manifest_debounce"`
	} `yaml:"plugin_engine"`
}

func newInitConfigCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default engine.yaml config file with the built-in timeouts spelled out",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &engine.Config{}
			if err := cfg.InitDefaults(); err != nil {
				return err
			}

			doc := initConfigDoc{}
			doc.PluginEngine.PluginsDir = cfg.PluginsDir
			doc.PluginEngine.LogDir = cfg.LogDir
			doc.PluginEngine.InitializeTimeout = cfg.InitializeTimeout.String()
			doc.PluginEngine.MCPGracePeriod = cfg.MCPGracePeriod.String()
			doc.PluginEngine.ExecTimeout = cfg.ExecTimeout.String()
			doc.PluginEngine.SessionTimeout = cfg.SessionTimeout.String()
			doc.PluginEngine.InputAckTimeout = cfg.InputAckTimeout.String()
			doc.PluginEngine.GracefulShutdown = cfg.GracefulShutdown.String()
			doc.PluginEngine.ForceShutdown = cfg.ForceShutdown.String()
			doc.PluginEngine.ManifestDebounce = cfg.ManifestDebounce.String()

			raw, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "engine.yaml", "output path")
	return cmd
}
