package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harunnryd/intervyu/pkg/intervyu"
	"github.com/harunnryd/intervyu/pkg/logging"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Probe every configured AI provider and print its availability",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
		manager, err := intervyu.NewAIManager(cmd.Context(), cfg, nil, logger, nil)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAVAILABLE\tDEFAULT")
		for _, st := range manager.Status(cmd.Context()) {
			fmt.Fprintf(w, "%s\t%t\t%t\n", st.Name, st.Available, st.Default)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
