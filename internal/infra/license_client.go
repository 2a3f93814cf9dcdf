package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"content-key-service/internal/domain"
)

// LicenseClient はSPCをライセンスサーバーにPOSTし、CKCを受け取る。
type LicenseClient struct {
	client      *http.Client
	contentType string
}

// NewLicenseClient は新しいLicenseClientを生成する。
// contentType が空の場合は Content-Type ヘッダーを付けない。
func NewLicenseClient(client *http.Client, contentType string) *LicenseClient {
	return &LicenseClient{
		client:      client,
		contentType: contentType,
	}
}

// Exchange はSPCを本文として1回だけPOSTする。
// 失敗は TRANSPORT_ERROR、NON_SUCCESS_STATUS、EMPTY_BODY のいずれかに分類される。
func (c *LicenseClient) Exchange(ctx context.Context, licenseURL string, spc []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, licenseURL, bytes.NewReader(spc))
	if err != nil {
		return nil, domain.NewExchangeError(domain.ExchangeFailureTransport, 0, fmt.Errorf("building request: %w", err))
	}
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "license request failed",
			"operation", "exchange_license",
			"url", licenseURL,
			"error", err,
		)
		return nil, domain.NewExchangeError(domain.ExchangeFailureTransport, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "license server returned non-success status",
			"operation", "exchange_license",
			"url", licenseURL,
			"status_code", resp.StatusCode,
		)
		return nil, domain.NewExchangeError(domain.ExchangeFailureNonSuccessStatus, resp.StatusCode,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	ckc, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewExchangeError(domain.ExchangeFailureTransport, resp.StatusCode, fmt.Errorf("reading body: %w", err))
	}
	if len(ckc) == 0 {
		return nil, domain.NewExchangeError(domain.ExchangeFailureEmptyBody, resp.StatusCode, errors.New("no key returned"))
	}
	return ckc, nil
}
