package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"content-key-service/internal/handler"
)

// newKeysCommand はアーカイブ済みCKCを操作する。
func newKeysCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect archived content keys",
	}
	cmd.AddCommand(newKeysListCommand(ctx))
	cmd.AddCommand(newKeysGetCommand(ctx))
	cmd.AddCommand(newKeysDisableCommand(ctx))
	return cmd
}

func keysPath(assetID string) string {
	return "/v1/assets/" + url.PathEscape(assetID) + "/keys"
}

func newKeysListCommand(ctx *cliContext) *cobra.Command {
	var assetID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all archived generations for an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctx.call(http.MethodGet, keysPath(assetID), nil, http.StatusOK)
			if err != nil {
				return err
			}
			if ctx.printJSON(cmd, body) {
				return nil
			}
			var result handler.KeyListResponse
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			rows := make([][]string, len(result.Keys))
			for i, k := range result.Keys {
				rows[i] = []string{strconv.FormatUint(uint64(k.Generation), 10), k.Status, k.RequestID, k.CreatedAt}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"GENERATION", "STATUS", "REQUEST", "CREATED_AT"}, rows, alignRight))
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID (required)")
	cmd.MarkFlagRequired("asset")
	return cmd
}

func newKeysGetCommand(ctx *cliContext) *cobra.Command {
	var assetID string
	var generation uint
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get an archived CKC for an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := keysPath(assetID) + "/current"
			if generation > 0 {
				path = fmt.Sprintf("%s/%d", keysPath(assetID), generation)
			}
			body, err := ctx.call(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			if ctx.printJSON(cmd, body) {
				return nil
			}
			var key handler.KeyResponse
			if err := json.Unmarshal(body, &key); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.CKC)
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID (required)")
	cmd.Flags().UintVar(&generation, "generation", 0, "Key generation (optional, defaults to current)")
	cmd.MarkFlagRequired("asset")
	return cmd
}

func newKeysDisableCommand(ctx *cliContext) *cobra.Command {
	var assetID string
	var generation uint
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable an archived generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if generation == 0 {
				return fmt.Errorf("--generation is required")
			}
			path := fmt.Sprintf("%s/%d", keysPath(assetID), generation)
			if _, err := ctx.call(http.MethodDelete, path, nil, http.StatusAccepted); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disabled key for asset %q (generation: %d)\n", assetID, generation)
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset ID (required)")
	cmd.Flags().UintVar(&generation, "generation", 0, "Key generation (required)")
	cmd.MarkFlagRequired("asset")
	cmd.MarkFlagRequired("generation")
	return cmd
}
