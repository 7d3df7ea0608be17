package main

import (
	"github.com/bbernhard/repairiq/src/commons"
	"github.com/spf13/cobra"
)

type commandContext struct {
	envFile string
	config  commons.Config
}

func (c *commandContext) load() error {
	var paths []string
	if c.envFile != "" {
		paths = append(paths, c.envFile)
	}
	config, err := commons.LoadConfig(paths...)
	if err != nil {
		return err
	}
	c.config = config

	commons.SetupLogging(config)
	return commons.SetupErrorReporting(config)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "repairiq",
		Short:         "Identify computer hardware components from a photo",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", "", "Path to a .env file (defaults to ./.env)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newPairCommand(ctx))

	return rootCmd
}
