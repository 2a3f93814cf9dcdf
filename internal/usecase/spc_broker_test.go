package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"content-key-service/internal/domain"
)

func waitChallenge(t *testing.T, b *SPCBroker, requestID string) SPCChallenge {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c, ok := b.Challenge(requestID); ok {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("challenge %s was not published", requestID)
	return SPCChallenge{}
}

func TestSPCBroker_Deliver(t *testing.T) {
	b := NewSPCBroker()
	type result struct {
		spc []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		spc, err := b.GenerateSPC(context.Background(), SPCChallenge{RequestID: "req-1", AssetID: "abc123"})
		done <- result{spc, err}
	}()

	c := waitChallenge(t, b, "req-1")
	if c.AssetID != "abc123" {
		t.Errorf("want asset abc123, got %s", c.AssetID)
	}

	if err := b.Deliver("req-1", []byte{0xAA}, nil); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	r := <-done
	if r.err != nil || !bytes.Equal(r.spc, []byte{0xAA}) {
		t.Errorf("want aa, got %x (%v)", r.spc, r.err)
	}

	if _, ok := b.Challenge("req-1"); ok {
		t.Error("challenge should be removed after delivery")
	}
	if err := b.Deliver("req-1", []byte{0xAA}, nil); !errors.Is(err, domain.ErrNoPendingChallenge) {
		t.Errorf("want ErrNoPendingChallenge, got %v", err)
	}
}

func TestSPCBroker_DeliverError(t *testing.T) {
	b := NewSPCBroker()
	done := make(chan error, 1)
	go func() {
		_, err := b.GenerateSPC(context.Background(), SPCChallenge{RequestID: "req-1"})
		done <- err
	}()

	waitChallenge(t, b, "req-1")
	engineErr := errors.New("key system failure")
	if err := b.Deliver("req-1", nil, engineErr); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if err := <-done; !errors.Is(err, engineErr) {
		t.Errorf("want engine error, got %v", err)
	}
}

func TestSPCBroker_ContextCanceled(t *testing.T) {
	b := NewSPCBroker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.GenerateSPC(ctx, SPCChallenge{RequestID: "req-1"})
		done <- err
	}()

	waitChallenge(t, b, "req-1")
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
	if _, ok := b.Challenge("req-1"); ok {
		t.Error("challenge should be removed after cancellation")
	}
}

func TestSPCBroker_WithSession(t *testing.T) {
	env := newTestEnv(t)
	s := env.session()
	b := NewSPCBroker()

	ticket := s.Submit(domain.KeyRequest{Locator: "skd://abc123"}, b)
	c := waitChallenge(t, b, ticket.Request().ID)
	if !bytes.Equal(c.Certificate, []byte{0x01, 0x02}) {
		t.Errorf("want certificate 0102, got %x", c.Certificate)
	}
	if ticket.State() != domain.StateAwaitingSPC {
		t.Errorf("want state awaiting_spc, got %s", ticket.State())
	}

	if err := b.Deliver(ticket.Request().ID, []byte{0xAA}, nil); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	res := waitResult(t, ticket)
	if !bytes.Equal(res.CKC, []byte{0xCC, 0xCC}) {
		t.Errorf("want CKC cccc, got %x (%v)", res.CKC, res.Err)
	}
}
