package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/microforest/pkg/log"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "microforest",
		Short:         "Train and run quantized random forests for memory-constrained devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// train は設定ファイルのlogセクションで上書きする
			_, err := log.Setup(log.Config{Level: opts.logLevel, Format: opts.logFormat})
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")

	cmd.AddCommand(
		newConvertCmd(),
		newTrainCmd(),
		newPredictCmd(),
		newInspectCmd(),
	)
	return cmd
}
