package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"content-key-service/internal/handler"
)

// newSessionCommand はライセンスセッションを操作する。
func newSessionCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage license sessions",
	}
	cmd.AddCommand(newSessionLoadCommand(ctx))
	cmd.AddCommand(newSessionUnloadCommand(ctx))
	cmd.AddCommand(newSessionListCommand(ctx))
	return cmd
}

func newSessionLoadCommand(ctx *cliContext) *cobra.Command {
	var req handler.CreateSessionRequest
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Start a license session for an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctx.call(http.MethodPost, "/v1/sessions", req, http.StatusCreated)
			if err != nil {
				return err
			}
			if ctx.printJSON(cmd, body) {
				return nil
			}
			var s handler.SessionResponse
			if err := json.Unmarshal(body, &s); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded session %s for asset %q (player %s)\n", s.SessionID, s.AssetID, s.PlayerID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.PlayerID, "player", "", "Player ID")
	cmd.Flags().StringVar(&req.AssetID, "asset", "", "Asset ID")
	cmd.Flags().StringVar(&req.CertificateURL, "certificate-url", "", "Certificate URL (defaults to server configuration)")
	cmd.Flags().StringVar(&req.LicenseURL, "license-url", "", "License URL (defaults to server configuration)")
	return cmd
}

func newSessionUnloadCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <session-id>",
		Short: "Tear down a license session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctx.call(http.MethodDelete, "/v1/sessions/"+url.PathEscape(args[0]), nil, http.StatusAccepted)
			if err != nil {
				return err
			}
			if ctx.printJSON(cmd, body) {
				return nil
			}
			var result struct {
				Abandoned int `json:"abandoned"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unloaded session %s (%d request(s) abandoned)\n", args[0], result.Abandoned)
			return nil
		},
	}
}

func newSessionListCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live license sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctx.call(http.MethodGet, "/v1/sessions", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if ctx.printJSON(cmd, body) {
				return nil
			}
			var list handler.SessionListResponse
			if err := json.Unmarshal(body, &list); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			rows := make([][]string, len(list.Sessions))
			for i, s := range list.Sessions {
				rows[i] = []string{s.SessionID, s.PlayerID, s.AssetID, s.CreatedAt}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"SESSION", "PLAYER", "ASSET", "CREATED_AT"}, rows))
			return nil
		},
	}
}

// newRequestsCommand は鍵リクエストの履歴を表示する。
func newRequestsCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect key requests",
	}

	var sessionID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List key requests of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctx.call(http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/key-requests", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if ctx.printJSON(cmd, body) {
				return nil
			}
			var result handler.KeyRequestListResponse
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			rows := make([][]string, len(result.Requests))
			for i, r := range result.Requests {
				errKind := "-"
				if r.Error != nil {
					errKind = r.Error.Kind
					if r.Error.Failure != "" {
						errKind = fmt.Sprintf("%s/%s", r.Error.Kind, r.Error.Failure)
					}
					if r.Error.StatusCode != 0 {
						errKind = fmt.Sprintf("%s (%d)", errKind, r.Error.StatusCode)
					}
				}
				rows[i] = []string{r.RequestID, r.Kind, r.Locator, r.AssetID, r.State, errKind}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"REQUEST", "KIND", "LOCATOR", "ASSET", "STATE", "ERROR"}, rows))
			return nil
		},
	}
	list.Flags().StringVar(&sessionID, "session", "", "Session ID (required)")
	list.MarkFlagRequired("session")

	cmd.AddCommand(list)
	return cmd
}
