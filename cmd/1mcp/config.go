package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/yq"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the aggregator config file",
	}
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigGetCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate mcp.json, reporting the first error found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d server(s), %d template(s), %d preset(s)\n",
				len(cfg.Servers), len(cfg.Templates), len(cfg.Presets))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", configPathFromEnv(), "path to mcp.json")
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "get <expression>",
		Short: "Evaluate a yq expression against mcp.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			out, err := yq.Evaluate(args[0], data, yq.NewYamlDecoder(), yq.NewJSONEncoder())
			if err != nil {
				return fmt.Errorf("evaluating expression: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", configPathFromEnv(), "path to mcp.json")
	return cmd
}
