package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"content-key-service/internal/domain"
)

// CertificateClient はアプリケーション証明書をHTTP GETで取得する。
// リトライは行わない。
type CertificateClient struct {
	client *http.Client
}

// NewCertificateClient は新しいCertificateClientを生成する。
func NewCertificateClient(client *http.Client) *CertificateClient {
	return &CertificateClient{client: client}
}

// Fetch は certificateURL から証明書を1回だけ取得する。
// 通信失敗、2xx以外、空の本文はすべて CertificateUnavailable になる。
func (c *CertificateClient) Fetch(ctx context.Context, certificateURL string) (domain.ApplicationCertificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certificateURL, nil)
	if err != nil {
		return nil, domain.NewKeyError(domain.ErrorKindCertificateUnavailable, fmt.Errorf("building request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "certificate request failed",
			"operation", "fetch_certificate",
			"url", certificateURL,
			"error", err,
		)
		return nil, domain.NewKeyError(domain.ErrorKindCertificateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "certificate endpoint returned non-success status",
			"operation", "fetch_certificate",
			"url", certificateURL,
			"status_code", resp.StatusCode,
		)
		return nil, &domain.KeyError{
			Kind:       domain.ErrorKindCertificateUnavailable,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewKeyError(domain.ErrorKindCertificateUnavailable, fmt.Errorf("reading body: %w", err))
	}
	if len(body) == 0 {
		return nil, domain.NewKeyError(domain.ErrorKindCertificateUnavailable, errors.New("empty certificate"))
	}
	return domain.ApplicationCertificate(body), nil
}
