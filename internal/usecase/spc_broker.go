package usecase

import (
	"context"
	"sync"

	"content-key-service/internal/domain"
)

// SPCBroker はSPC生成をメディアエンジンに委ねる SPCGenerator。
// チャレンジを公開し、エンジンから Deliver されるまで待機する。
type SPCBroker struct {
	mu      sync.Mutex
	pending map[string]*spcSlot
}

type spcSlot struct {
	challenge SPCChallenge
	reply     chan spcReply
}

type spcReply struct {
	spc []byte
	err error
}

// NewSPCBroker は新しいSPCBrokerを生成する。
func NewSPCBroker() *SPCBroker {
	return &SPCBroker{pending: make(map[string]*spcSlot)}
}

// GenerateSPC はチャレンジを登録し、SPCかエラーが届くか ctx が終了するまで待つ。
func (b *SPCBroker) GenerateSPC(ctx context.Context, challenge SPCChallenge) ([]byte, error) {
	slot := &spcSlot{
		challenge: challenge,
		reply:     make(chan spcReply, 1),
	}

	b.mu.Lock()
	b.pending[challenge.RequestID] = slot
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.pending[challenge.RequestID] == slot {
			delete(b.pending, challenge.RequestID)
		}
		b.mu.Unlock()
	}()

	select {
	case r := <-slot.reply:
		return r.spc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Challenge は待機中のチャレンジを返す。
func (b *SPCBroker) Challenge(requestID string) (SPCChallenge, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, ok := b.pending[requestID]
	if !ok {
		return SPCChallenge{}, false
	}
	return slot.challenge, true
}

// Deliver は鍵システムの結果（SPCまたはエラー）を待機中のリクエストへ渡す。
func (b *SPCBroker) Deliver(requestID string, spc []byte, err error) error {
	b.mu.Lock()
	slot, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		return domain.ErrNoPendingChallenge
	}
	slot.reply <- spcReply{spc: spc, err: err}
	return nil
}
