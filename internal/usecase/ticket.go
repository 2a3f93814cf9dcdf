package usecase

import (
	"context"
	"sync"
	"time"

	"content-key-service/internal/domain"
)

// Ticket は処理中の鍵リクエスト1件の状態と結果を保持する。
// 結果は成功か失敗のどちらか一度だけ確定する。
// 終端状態は結果の公開と同時に見えるようになる。
type Ticket struct {
	req  domain.KeyRequest
	done chan struct{}

	// recording は状態変更と遷移の記録をチケット単位で直列化する
	recording sync.Mutex

	mu          sync.Mutex
	state       domain.RequestState
	settled     bool
	assetID     domain.AssetIdentifier
	result      domain.ExchangeResult
	completedAt time.Time
}

func newTicket(req domain.KeyRequest) *Ticket {
	return &Ticket{
		req:   req,
		done:  make(chan struct{}),
		state: domain.StateCreated,
	}
}

// Request は元の鍵リクエストを返す。
func (t *Ticket) Request() domain.KeyRequest {
	return t.req
}

// State は現在の状態を返す。
func (t *Ticket) State() domain.RequestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AssetID は解決済みのアセットIDを返す。未解決なら空文字。
func (t *Ticket) AssetID() domain.AssetIdentifier {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assetID
}

// Done は結果確定時にクローズされるチャネルを返す。
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result は確定済みの結果を返す。未確定なら ok は false。
func (t *Ticket) Result() (domain.ExchangeResult, bool) {
	select {
	case <-t.done:
	default:
		return domain.ExchangeResult{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, true
}

// Wait は結果の確定を待つ。ctx が先に終了した場合は ctx のエラーを返す。
func (t *Ticket) Wait(ctx context.Context) (domain.ExchangeResult, error) {
	select {
	case <-t.done:
		res, _ := t.Result()
		return res, nil
	case <-ctx.Done():
		return domain.ExchangeResult{}, ctx.Err()
	}
}

func (t *Ticket) setAssetID(id domain.AssetIdentifier) {
	t.mu.Lock()
	t.assetID = id
	t.mu.Unlock()
}

// advance は非終端状態へ遷移する。既に結果が確定していれば何もしない。
func (t *Ticket) advance(to domain.RequestState) (domain.RequestState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return t.state, false
	}
	from := t.state
	t.state = to
	return from, true
}

// complete は結果を確定する。二度目以降の呼び出しは無視される。
// 状態は publish まで遷移前のまま見える。
func (t *Ticket) complete(res domain.ExchangeResult) (domain.RequestState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return t.state, false
	}
	t.settled = true
	t.result = res
	return t.state, true
}

// publish は終端状態に遷移し、確定した結果を待機者に通知する。
func (t *Ticket) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result.Succeeded() {
		t.state = domain.StateResolved
	} else {
		t.state = domain.StateFailed
	}
	t.completedAt = time.Now()
	close(t.done)
}

// final は確定済みの結果を返す。complete の後でのみ呼ぶ。
func (t *Ticket) final() domain.ExchangeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// completedBefore は結果が公開済みで、その時刻が cutoff より前かを返す。
func (t *Ticket) completedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.completedAt.IsZero() && t.completedAt.Before(cutoff)
}
