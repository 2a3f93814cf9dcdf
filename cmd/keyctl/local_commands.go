package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"content-key-service/config"
	"content-key-service/internal/domain"
	"content-key-service/internal/infra"
	"content-key-service/internal/usecase"
)

// newResolveCommand はロケーターからアセットIDを導出する。
func newResolveCommand(ctx *cliContext) *cobra.Command {
	var policy, prefix, delimiter string
	cmd := &cobra.Command{
		Use:   "resolve <locator>",
		Short: "Derive the asset identifier from a key locator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := usecase.NewAssetIdentifierResolver(policy, prefix, delimiter)
			if err != nil {
				return err
			}
			assetID, err := resolver.Resolve(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", domain.ErrorKindMalformedLocator, err)
			}

			if ctx.jsonOutput() {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"locator":  args[0],
					"asset_id": string(assetID),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), assetID)
			return nil
		},
	}
	cmd.Flags().StringVar(&policy, "policy", config.LocatorPolicyPrefix, "Locator policy: prefix, delimiter")
	cmd.Flags().StringVar(&prefix, "prefix", "skd://", "Locator prefix for the prefix policy")
	cmd.Flags().StringVar(&delimiter, "delimiter", "/", "Delimiter for the delimiter policy")
	return cmd
}

// newRetryCommand はリトライ理由に対する判定を表示する。
func newRetryCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <reason>",
		Short: "Decide whether a media engine retry reason should be retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retry := usecase.ShouldRetry(domain.RetryReason(args[0]))
			if ctx.jsonOutput() {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"reason": args[0],
					"retry":  retry,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), retry)
			return nil
		},
	}
}

// newCertificateCommand はアプリケーション証明書を直接取得する。
func newCertificateCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Application certificate operations",
	}

	var url, out string
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the application certificate once",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := infra.NewCertificateClient(infra.NewHTTPClient(ctx.timeout))
			cert, err := client.Fetch(context.Background(), url)
			if err != nil {
				return err
			}
			return writeBytes(cmd, out, cert)
		},
	}
	fetch.Flags().StringVar(&url, "url", "", "Certificate URL (required)")
	fetch.Flags().StringVar(&out, "out", "", "Write raw bytes to this file instead of printing base64")
	fetch.MarkFlagRequired("url")

	cmd.AddCommand(fetch)
	return cmd
}

// newLicenseCommand はSPCをライセンスサーバーへ直接送信する。
func newLicenseCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "License exchange operations",
	}

	var url, spcB64, spcFile, contentType, out string
	exchange := &cobra.Command{
		Use:   "exchange",
		Short: "Exchange an SPC for a CKC once",
		RunE: func(cmd *cobra.Command, args []string) error {
			spc, err := readSPC(spcB64, spcFile)
			if err != nil {
				return err
			}
			client := infra.NewLicenseClient(infra.NewHTTPClient(ctx.timeout), contentType)
			ckc, err := client.Exchange(context.Background(), url, spc)
			if err != nil {
				return err
			}
			return writeBytes(cmd, out, ckc)
		},
	}
	exchange.Flags().StringVar(&url, "url", "", "License URL (required)")
	exchange.Flags().StringVar(&spcB64, "spc", "", "SPC as base64")
	exchange.Flags().StringVar(&spcFile, "spc-file", "", "File containing the raw SPC")
	exchange.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "Content-Type header (empty to omit)")
	exchange.Flags().StringVar(&out, "out", "", "Write raw CKC to this file instead of printing base64")
	exchange.MarkFlagRequired("url")

	cmd.AddCommand(exchange)
	return cmd
}

func readSPC(b64, file string) ([]byte, error) {
	switch {
	case b64 != "" && file != "":
		return nil, errors.New("--spc and --spc-file are mutually exclusive")
	case b64 != "":
		spc, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decoding --spc: %w", err)
		}
		return spc, nil
	case file != "":
		spc, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading --spc-file: %w", err)
		}
		return spc, nil
	}
	return nil, errors.New("--spc or --spc-file is required")
}

func writeBytes(cmd *cobra.Command, path string, b []byte) error {
	if path != "" {
		if err := os.WriteFile(path, b, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(b), path)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(b))
	return nil
}
