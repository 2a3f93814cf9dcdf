// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// cliContext はサブコマンド間で共有するグローバル設定。
type cliContext struct {
	apiURL  string
	output  string
	timeout time.Duration
	client  *http.Client
}

func (c *cliContext) jsonOutput() bool {
	return c.output == "json"
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	ctx := &cliContext{}

	rootCmd := &cobra.Command{
		Use:          "keyctl",
		Short:        "Content key acquisition CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if ctx.apiURL == "" {
				ctx.apiURL = os.Getenv("KEYCTL_API_URL")
			}
			ctx.apiURL = strings.TrimRight(ctx.apiURL, "/")
			ctx.client = &http.Client{Timeout: ctx.timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&ctx.apiURL, "api-url", "", "API endpoint URL (or set KEYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&ctx.output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newRetryCommand(ctx))
	rootCmd.AddCommand(newCertificateCommand(ctx))
	rootCmd.AddCommand(newLicenseCommand(ctx))
	rootCmd.AddCommand(newSessionCommand(ctx))
	rootCmd.AddCommand(newRequestsCommand(ctx))
	rootCmd.AddCommand(newKeysCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}

// newVersionCommand はバージョン情報を表示する。
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keyctl version %s\n", version)
		},
	}
}

// call はAPIを呼び出し、期待したステータスであれば本文を返す。
func (c *cliContext) call(method, path string, payload any, wantStatus int) ([]byte, error) {
	if c.apiURL == "" {
		return nil, errors.New("--api-url is required (or set KEYCTL_API_URL)")
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// printJSON は --output json の場合に本文をそのまま出力する。
func (c *cliContext) printJSON(cmd *cobra.Command, body []byte) bool {
	if !c.jsonOutput() {
		return false
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	return true
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("%s: %s", errResp.Code, errResp.Message)
	}
	return fmt.Errorf("server returned status %d", statusCode)
}
