package main

import (
	"context"
	"fmt"
	"os"

	"chatwave/global"
	"chatwave/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const AppName = "chatwave"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := NewRootCmd(Version).ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func NewRootCmd(version string) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Presence and unread notification pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./chatwave.yaml)")

	load := func() (*global.Config, error) {
		conf, err := global.LoadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
		if err := logger.SetLevel(conf.Log.Level); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		return conf, nil
	}

	cmd.AddCommand(
		NewServeCmd(load),
		NewSyncPresenceCmd(load),
		NewInstallTriggersCmd(load),
	)
	return cmd
}

type configLoader func() (*global.Config, error)
