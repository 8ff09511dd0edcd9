package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/audiosource/internal/config"
	"github.com/cesargomez89/audiosource/internal/logger"
)

// commandContext loads the configuration once for whichever command runs.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) logger() *logger.Logger {
	return logger.New(logger.Config{
		Level:  c.cfg.LogLevel,
		Format: c.cfg.LogFormat,
	})
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "audiosource",
		Short:         "Music library cataloguing and acquisition server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML), defaults to $AUDIOSOURCE_CONFIG")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	return rootCmd
}
