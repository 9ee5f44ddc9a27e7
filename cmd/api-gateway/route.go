package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/config"
	"github.com/nandth/model-router-ai/services/prompt"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/services/tiers"
)

var routeCmd = &cobra.Command{
	Use:   "route [prompt]",
	Short: "Show the routing decision for a prompt without calling a model",
	Long: "Score a prompt and print the routing decision with its score breakdown as JSON.\n" +
		"The prompt is read from the arguments, or from stdin when none are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read prompt: %w", err)
			}
			text = string(data)
		}
		text = prompt.Sanitize(text)
		if strings.TrimSpace(text) == "" {
			return errors.New("prompt is empty")
		}

		tierFile, _ := cmd.Flags().GetString("tiers")
		model, _ := cmd.Flags().GetString("model")
		modeName, _ := cmd.Flags().GetString("mode")

		mode, err := tiers.ParseRouteMode(modeName)
		if err != nil {
			return err
		}
		table, err := config.LoadTierTable(tierFile)
		if err != nil {
			return err
		}
		router, err := routing.NewRouter(table, 0, zap.NewNop())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(router.Analyze(text, model, mode))
	},
}

func init() {
	routeCmd.Flags().String("tiers", "", "Tier override file (.yaml, .yml or .toml)")
	routeCmd.Flags().String("model", "", "Model hint")
	routeCmd.Flags().String("mode", string(tiers.RouteAuto), "Route mode: auto or force")
	rootCmd.AddCommand(routeCmd)
}
