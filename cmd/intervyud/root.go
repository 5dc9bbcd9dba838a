package main

import (
	"github.com/spf13/cobra"

	"github.com/harunnryd/intervyu/pkg/intervyu"
)

const app = "intervyud"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           app,
		Short:         "intervyud runs real-time AI video interviews over websockets",
		SilenceUsage: true,
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and INTERVYU_* environment only when empty)")
}

func loadConfig() (intervyu.Config, error) {
	return intervyu.LoadConfig(cfgFile)
}
