package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"content-key-service/internal/domain"
)

// SessionDeps はライセンスセッションが共有する依存関係。
type SessionDeps struct {
	Resolver         *AssetIdentifierResolver
	Fetcher          CertificateFetcher
	Exchanger        LicenseExchanger
	Recorder         RequestRecorder
	Archiver         KeyArchiver
	SPCTimeout       time.Duration
	CacheCertificate bool
	// TicketRetention は確定済みチケットをセッション内に残す期間。0 なら既定値。
	TicketRetention  time.Duration
	Logger           *slog.Logger
}

const defaultTicketRetention = 5 * time.Minute

// LicenseSession は1つの再生アセットに紐づく鍵取得セッション。
// 証明書URLとライセンスURLは生成後に変更されない。
type LicenseSession struct {
	id          string
	playerID    string
	asset       domain.PlaybackAsset
	createdAt   time.Time
	fetcher     CertificateFetcher
	cacheCert   bool
	retention   time.Duration
	coordinator *Coordinator
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu          sync.Mutex
	closed      bool
	tickets     map[string]*Ticket
	certificate domain.ApplicationCertificate
}

func newLicenseSession(playerID string, asset domain.PlaybackAsset, deps SessionDeps) *LicenseSession {
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := deps.TicketRetention
	if retention <= 0 {
		retention = defaultTicketRetention
	}
	s := &LicenseSession{
		id:        uuid.NewString(),
		playerID:  playerID,
		asset:     asset,
		createdAt: time.Now().UTC(),
		fetcher:   deps.Fetcher,
		cacheCert: deps.CacheCertificate,
		retention: retention,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		tickets:   make(map[string]*Ticket),
	}
	s.coordinator = newCoordinator(s.id, asset.LicenseURL, s, s.Live, deps)
	return s
}

// ID はセッションIDを返す。
func (s *LicenseSession) ID() string { return s.id }

// PlayerID はセッションを所有するプレイヤーIDを返す。
func (s *LicenseSession) PlayerID() string { return s.playerID }

// Asset は紐づいているアセットを返す。
func (s *LicenseSession) Asset() domain.PlaybackAsset { return s.asset }

// CreatedAt はセッションの生成時刻を返す。
func (s *LicenseSession) CreatedAt() time.Time { return s.createdAt }

// Live はセッションが破棄されていないかを返す。
func (s *LicenseSession) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Submit は鍵リクエストを受け付け、状態機械を非同期に開始する。
// 破棄済みのセッションでは SessionTornDown で確定済みのチケットを返す。
func (s *LicenseSession) Submit(req domain.KeyRequest, gen SPCGenerator) *Ticket {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Kind == "" {
		req.Kind = domain.RequestKindInitial
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.SessionID = s.id
	t := newTicket(req)

	s.coordinator.begin(s.ctx, t)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.coordinator.abandon(context.Background(), t)
		return t
	}
	s.pruneLocked(time.Now())
	s.tickets[req.ID] = t
	s.mu.Unlock()

	go s.coordinator.drive(s.ctx, t, gen)
	return t
}

// pruneLocked は保持期間を過ぎた確定済みチケットを取り除く。s.mu を保持して呼ぶ。
func (s *LicenseSession) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for id, t := range s.tickets {
		if t.completedBefore(cutoff) {
			delete(s.tickets, id)
		}
	}
}

// Ticket は指定IDのチケットを返す。
// 確定から保持期間を過ぎたチケットは見つからないことがある。
func (s *LicenseSession) Ticket(requestID string) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[requestID]
	return t, ok
}

// Tickets はセッション内の全チケットを受付順に返す。
func (s *LicenseSession) Tickets() []*Ticket {
	s.mu.Lock()
	tickets := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		tickets = append(tickets, t)
	}
	s.mu.Unlock()

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].req.CreatedAt.Before(tickets[j].req.CreatedAt)
	})
	return tickets
}

// Certificate はアプリケーション証明書を返す。
// キャッシュ有効時はセッション内で一度だけ取得し、同時取得は1回にまとめる。
func (s *LicenseSession) Certificate(ctx context.Context) (domain.ApplicationCertificate, error) {
	if !s.cacheCert {
		return s.fetcher.Fetch(ctx, s.asset.CertificateURL)
	}

	s.mu.Lock()
	cached := s.certificate
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := s.group.Do("certificate", func() (any, error) {
		cert, err := s.fetcher.Fetch(ctx, s.asset.CertificateURL)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if !s.closed {
			s.certificate = cert
		}
		s.mu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.ApplicationCertificate), nil
}

// TearDown はセッションを破棄する。進行中の通信をキャンセルし、
// 未確定のリクエストをすべて SessionTornDown で確定させ、その件数を返す。
func (s *LicenseSession) TearDown() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	s.certificate = nil
	tickets := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		tickets = append(tickets, t)
	}
	s.mu.Unlock()

	s.cancel()

	abandoned := 0
	for _, t := range tickets {
		if s.coordinator.abandon(context.Background(), t) {
			abandoned++
		}
	}
	s.logger.Info("license session torn down",
		"session_id", s.id,
		"player_id", s.playerID,
		"asset_id", s.asset.ID,
		"abandoned", abandoned,
	)
	return abandoned
}
