package infra

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes は証明書・CKC応答として読み込む最大サイズ。
const maxResponseBytes = 1 << 20

// NewHTTPClient はトレース伝搬付きのHTTPクライアントを生成する。
// timeout は1リクエスト全体の上限で、0 なら無制限。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
