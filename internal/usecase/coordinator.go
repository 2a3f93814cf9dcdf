// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"content-key-service/internal/domain"
)

// defaultProtocolVersions はSPC生成時に鍵システムへ渡すプロトコルバージョン。
var defaultProtocolVersions = []int{1}

// CertificateFetcher はアプリケーション証明書取得のインターフェース。
type CertificateFetcher interface {
	Fetch(ctx context.Context, certificateURL string) (domain.ApplicationCertificate, error)
}

// LicenseExchanger はSPCをCKCに交換するインターフェース。
type LicenseExchanger interface {
	Exchange(ctx context.Context, licenseURL string, spc []byte) ([]byte, error)
}

// SPCChallenge は鍵システムにSPC生成を依頼するための入力。
type SPCChallenge struct {
	RequestID        string
	Certificate      domain.ApplicationCertificate
	AssetID          domain.AssetIdentifier
	ProtocolVersions []int
}

// SPCGenerator は外部の鍵システムが提供するSPC生成プリミティブ。
type SPCGenerator interface {
	GenerateSPC(ctx context.Context, challenge SPCChallenge) ([]byte, error)
}

// SPCGeneratorFunc は関数をSPCGeneratorとして扱うアダプタ。
type SPCGeneratorFunc func(ctx context.Context, challenge SPCChallenge) ([]byte, error)

// GenerateSPC は f を呼び出す。
func (f SPCGeneratorFunc) GenerateSPC(ctx context.Context, challenge SPCChallenge) ([]byte, error) {
	return f(ctx, challenge)
}

// RequestRecorder は状態遷移を記録するインターフェース。
type RequestRecorder interface {
	RecordTransition(ctx context.Context, t domain.Transition) error
}

// KeyArchiver は取得したCKCを保存するインターフェース。
type KeyArchiver interface {
	Archive(ctx context.Context, assetID domain.AssetIdentifier, requestID string, ckc []byte) (*domain.KeyMetadata, error)
}

type certificateSource interface {
	Certificate(ctx context.Context) (domain.ApplicationCertificate, error)
}

// Coordinator は1セッション内の鍵リクエストの状態機械を駆動する。
type Coordinator struct {
	sessionID    string
	licenseURL   string
	resolver     *AssetIdentifierResolver
	certificates certificateSource
	exchanger    LicenseExchanger
	recorder     RequestRecorder
	archiver     KeyArchiver
	spcTimeout   time.Duration
	live         func() bool
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Process は鍵リクエストを Created から Resolved または Failed まで進め、確定した結果を返す。
// ctx はセッションの生存期間を表し、その終了はセッション破棄として扱う。
func (c *Coordinator) Process(ctx context.Context, t *Ticket, gen SPCGenerator) domain.ExchangeResult {
	c.begin(ctx, t)
	return c.drive(ctx, t, gen)
}

// drive は begin 済みのチケットを終端状態まで進める。
func (c *Coordinator) drive(ctx context.Context, t *Ticket, gen SPCGenerator) domain.ExchangeResult {
	req := t.Request()
	ctx, span := c.tracer.Start(ctx, "key_request",
		trace.WithAttributes(
			attribute.String("key_request.id", req.ID),
			attribute.String("key_request.kind", string(req.Kind)),
			attribute.String("session.id", c.sessionID),
		),
	)
	defer span.End()

	res := c.run(ctx, t, gen)
	final := c.complete(ctx, t, res)

	if final.Succeeded() {
		span.SetStatus(codes.Ok, "")
		c.archive(ctx, t, final.CKC)
	} else {
		span.RecordError(final.Err)
		span.SetStatus(codes.Error, string(kindOf(final.Err)))
	}
	return final
}

func (c *Coordinator) run(ctx context.Context, t *Ticket, gen SPCGenerator) domain.ExchangeResult {
	req := t.Request()

	c.advance(ctx, t, domain.StateResolvingAssetID)
	assetID, err := c.resolver.Resolve(req.Locator)
	if err != nil {
		return domain.Failure(err)
	}
	t.setAssetID(assetID)

	c.advance(ctx, t, domain.StateFetchingCertificate)
	cert, err := c.fetchCertificate(ctx)
	if lerr := c.ensureLive(ctx); lerr != nil {
		return domain.Failure(lerr)
	}
	if err != nil {
		return domain.Failure(asKind(domain.ErrorKindCertificateUnavailable, err))
	}

	c.advance(ctx, t, domain.StateAwaitingSPC)
	spc, err := c.generateSPC(ctx, gen, SPCChallenge{
		RequestID:        req.ID,
		Certificate:      cert,
		AssetID:          assetID,
		ProtocolVersions: defaultProtocolVersions,
	})
	if lerr := c.ensureLive(ctx); lerr != nil {
		return domain.Failure(lerr)
	}
	if err != nil {
		return domain.Failure(domain.NewKeyError(domain.ErrorKindSPCGenerationFailed, err))
	}
	if len(spc) == 0 {
		return domain.Failure(domain.NewKeyError(domain.ErrorKindSPCGenerationFailed, errors.New("key system returned an empty SPC")))
	}

	c.advance(ctx, t, domain.StateExchangingLicense)
	ckc, err := c.exchange(ctx, spc)
	if lerr := c.ensureLive(ctx); lerr != nil {
		return domain.Failure(lerr)
	}
	if err != nil {
		if domain.AsKeyError(err) == nil {
			err = domain.NewExchangeError(domain.ExchangeFailureTransport, 0, err)
		}
		return domain.Failure(err)
	}
	return domain.Success(ckc)
}

func (c *Coordinator) fetchCertificate(ctx context.Context) (domain.ApplicationCertificate, error) {
	ctx, span := c.tracer.Start(ctx, "fetch_certificate")
	defer span.End()
	cert, err := c.certificates.Certificate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "certificate unavailable")
	}
	return cert, err
}

func (c *Coordinator) generateSPC(ctx context.Context, gen SPCGenerator, challenge SPCChallenge) ([]byte, error) {
	if gen == nil {
		return nil, errors.New("no SPC generator")
	}
	ctx, span := c.tracer.Start(ctx, "generate_spc")
	defer span.End()
	if c.spcTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.spcTimeout)
		defer cancel()
	}
	spc, err := gen.GenerateSPC(ctx, challenge)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SPC generation failed")
	}
	return spc, err
}

func (c *Coordinator) exchange(ctx context.Context, spc []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "exchange_license")
	defer span.End()
	ckc, err := c.exchanger.Exchange(ctx, c.licenseURL, spc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "license exchange failed")
	}
	return ckc, err
}

// ensureLive はネットワーク応答を処理する前にセッションが生きているか確認する。
func (c *Coordinator) ensureLive(ctx context.Context) error {
	if ctx.Err() != nil || (c.live != nil && !c.live()) {
		return domain.NewKeyError(domain.ErrorKindSessionTornDown, ctx.Err())
	}
	return nil
}

// begin は作成を記録する。状態変更と記録はすべて t.recording の下で行い、
// 台帳への書き込み順を遷移順と一致させる。
func (c *Coordinator) begin(ctx context.Context, t *Ticket) {
	t.recording.Lock()
	defer t.recording.Unlock()
	c.record(ctx, t, "", domain.StateCreated, nil)
}

func (c *Coordinator) advance(ctx context.Context, t *Ticket, to domain.RequestState) {
	t.recording.Lock()
	defer t.recording.Unlock()
	from, ok := t.advance(to)
	if !ok {
		return
	}
	c.record(ctx, t, from, to, nil)
}

// complete は結果を確定し、実際に確定した結果を返す（破棄済みなら破棄時の結果）。
// 終端遷移を記録してから結果を公開する。
func (c *Coordinator) complete(ctx context.Context, t *Ticket, res domain.ExchangeResult) domain.ExchangeResult {
	t.recording.Lock()
	defer t.recording.Unlock()
	from, ok := t.complete(res)
	if ok {
		to := domain.StateResolved
		if !res.Succeeded() {
			to = domain.StateFailed
		}
		c.record(ctx, t, from, to, res.Err)
		t.publish()
	}
	return t.final()
}

// abandon はセッション破棄に伴いリクエストを失敗させる。未確定だった場合に true を返す。
func (c *Coordinator) abandon(ctx context.Context, t *Ticket) bool {
	t.recording.Lock()
	defer t.recording.Unlock()
	from, ok := t.complete(domain.Failure(domain.NewKeyError(domain.ErrorKindSessionTornDown, nil)))
	if ok {
		c.record(ctx, t, from, domain.StateFailed, t.final().Err)
		t.publish()
	}
	return ok
}

func (c *Coordinator) record(ctx context.Context, t *Ticket, from, to domain.RequestState, err error) {
	req := t.Request()
	attrs := []any{
		"session_id", c.sessionID,
		"request_id", req.ID,
		"kind", req.Kind,
		"from", from,
		"to", to,
	}
	if req.RetryReason != "" {
		attrs = append(attrs, "retry_reason", req.RetryReason)
	}
	if err != nil {
		attrs = append(attrs, "error_kind", kindOf(err), "error", err)
		if ke := domain.AsKeyError(err); ke != nil && ke.Failure != "" {
			attrs = append(attrs, "failure", ke.Failure, "status_code", ke.StatusCode)
		}
		c.logger.WarnContext(ctx, "key request transition", attrs...)
	} else {
		c.logger.InfoContext(ctx, "key request transition", attrs...)
	}

	if c.recorder == nil {
		return
	}
	tr := domain.Transition{
		Request:   req,
		AssetID:   t.AssetID(),
		From:      from,
		To:        to,
		Err:       err,
		Timestamp: time.Now().UTC(),
	}
	// 記録は結果の配送とは独立させる
	if rerr := c.recorder.RecordTransition(context.WithoutCancel(ctx), tr); rerr != nil {
		c.logger.ErrorContext(ctx, "failed to record transition",
			"operation", "record_transition",
			"request_id", req.ID,
			"error", rerr,
		)
	}
}

func (c *Coordinator) archive(ctx context.Context, t *Ticket, ckc []byte) {
	if c.archiver == nil {
		return
	}
	meta, err := c.archiver.Archive(context.WithoutCancel(ctx), t.AssetID(), t.Request().ID, ckc)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to archive key",
			"operation", "archive_key",
			"request_id", t.Request().ID,
			"asset_id", t.AssetID(),
			"error", err,
		)
		return
	}
	c.logger.InfoContext(ctx, "key archived",
		"request_id", t.Request().ID,
		"asset_id", meta.AssetID,
		"generation", meta.Generation,
	)
}

func newCoordinator(sessionID, licenseURL string, certs certificateSource, live func() bool, deps SessionDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessionID:    sessionID,
		licenseURL:   licenseURL,
		resolver:     deps.Resolver,
		certificates: certs,
		exchanger:    deps.Exchanger,
		recorder:     deps.Recorder,
		archiver:     deps.Archiver,
		spcTimeout:   deps.SPCTimeout,
		live:         live,
		logger:       logger,
		tracer:       otel.Tracer("content-key-service/usecase"),
	}
}

// asKind は KeyError でないエラーを指定種別の KeyError で包む。
func asKind(kind domain.ErrorKind, err error) error {
	if ke := domain.AsKeyError(err); ke != nil {
		return ke
	}
	return domain.NewKeyError(kind, err)
}

func kindOf(err error) domain.ErrorKind {
	if ke := domain.AsKeyError(err); ke != nil {
		return ke.Kind
	}
	return ""
}
