package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flemzord/llmgate/internal/gwconfig"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configValidateCmd(), configMigrateCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path, err := configArgOrResolve(args)
			if err != nil {
				return err
			}
			cfg, err := gwconfig.Load(path)
			if err != nil {
				return err
			}
			if err := gwconfig.Validate(cfg); err != nil {
				return err
			}
			fmt.Printf("Configuration OK: %s (%d providers)\n", path, len(cfg.Providers))
			return nil
		},
	}
}

func configMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [path]",
		Short: "Load a configuration file, applying legacy-field migrations, and write it back",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path, err := configArgOrResolve(args)
			if err != nil {
				return err
			}
			cfg, err := gwconfig.Load(path)
			if err != nil {
				return err
			}
			if err := gwconfig.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Migrated and saved: %s\n", path)
			return nil
		},
	}
}

func configArgOrResolve(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return resolveConfigPath()
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/llmgate/config.json → ~/.config/llmgate/config.json → ./llmgate.json
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "llmgate", "config.json"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "llmgate", "config.json"))
	}
	candidates = append(candidates, "llmgate.json")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// No existing file: bootstrap at the first candidate, matching
	// gwconfig.Load's "missing file returns Default()" contract.
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return "", fmt.Errorf("no configuration path could be determined")
}

func defaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "llmgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "llmgate")
}
