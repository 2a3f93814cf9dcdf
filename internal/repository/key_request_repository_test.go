package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"content-key-service/internal/domain"
)

func TestKeyRequestRepository_RecordTransition(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRequestRepository(db)

	req := domain.KeyRequest{
		ID:        "req-1",
		SessionID: "session-1",
		Locator:   "skd://abc123",
		Kind:      domain.RequestKindInitial,
		CreatedAt: time.Now().UTC(),
	}
	now := time.Now().UTC()

	if err := repo.RecordTransition(ctx, domain.Transition{Request: req, To: domain.StateCreated, Timestamp: now}); err != nil {
		t.Fatalf("RecordTransition(created) failed: %v", err)
	}
	if err := repo.RecordTransition(ctx, domain.Transition{
		Request: req, AssetID: "abc123",
		From: domain.StateCreated, To: domain.StateResolvingAssetID, Timestamp: now,
	}); err != nil {
		t.Fatalf("RecordTransition(resolving) failed: %v", err)
	}
	if err := repo.RecordTransition(ctx, domain.Transition{
		Request: req, AssetID: "abc123",
		From: domain.StateExchangingLicense, To: domain.StateFailed,
		Err:       domain.NewExchangeError(domain.ExchangeFailureNonSuccessStatus, 403, nil),
		Timestamp: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("RecordTransition(failed) failed: %v", err)
	}

	rec, err := repo.FindByID(ctx, "req-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if rec.State != domain.StateFailed {
		t.Errorf("want state failed, got %s", rec.State)
	}
	if rec.AssetID != "abc123" {
		t.Errorf("want asset_id abc123, got %s", rec.AssetID)
	}
	if rec.ErrorKind != domain.ErrorKindLicenseExchangeFailed {
		t.Errorf("want error_kind LICENSE_EXCHANGE_FAILED, got %s", rec.ErrorKind)
	}
	if rec.Failure != domain.ExchangeFailureNonSuccessStatus || rec.StatusCode != 403 {
		t.Errorf("want NON_SUCCESS_STATUS/403, got %s/%d", rec.Failure, rec.StatusCode)
	}
}

func TestKeyRequestRepository_RecordTransition_TerminalStateIsFinal(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRequestRepository(db)

	req := domain.KeyRequest{
		ID:        "req-1",
		SessionID: "session-1",
		Locator:   "skd://abc123",
		Kind:      domain.RequestKindInitial,
		CreatedAt: time.Now().UTC(),
	}
	now := time.Now().UTC()

	if err := repo.RecordTransition(ctx, domain.Transition{Request: req, To: domain.StateCreated, Timestamp: now}); err != nil {
		t.Fatalf("RecordTransition(created) failed: %v", err)
	}
	if err := repo.RecordTransition(ctx, domain.Transition{
		Request: req, AssetID: "abc123",
		From: domain.StateFetchingCertificate, To: domain.StateFailed,
		Err:       domain.NewKeyError(domain.ErrorKindSessionTornDown, nil),
		Timestamp: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("RecordTransition(failed) failed: %v", err)
	}
	// 終端記録の後に遅れて届いた遷移
	if err := repo.RecordTransition(ctx, domain.Transition{
		Request: req, AssetID: "abc123",
		From: domain.StateFetchingCertificate, To: domain.StateAwaitingSPC,
		Timestamp: now.Add(2 * time.Second),
	}); err != nil {
		t.Fatalf("RecordTransition(awaiting_spc) failed: %v", err)
	}

	rec, err := repo.FindByID(ctx, "req-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if rec.State != domain.StateFailed {
		t.Errorf("want state to stay failed, got %s", rec.State)
	}
	if rec.ErrorKind != domain.ErrorKindSessionTornDown {
		t.Errorf("want error_kind SESSION_TORN_DOWN, got %s", rec.ErrorKind)
	}
}

func TestKeyRequestRepository_FindByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyRequestRepository(db)

	_, err := repo.FindByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("want ErrRequestNotFound, got %v", err)
	}
}

func TestKeyRequestRepository_ListBySession(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRequestRepository(db)

	base := time.Now().UTC()
	for i, s := range []struct{ id, session string }{
		{"req-1", "session-1"},
		{"req-2", "session-2"},
		{"req-3", "session-1"},
	} {
		req := domain.KeyRequest{ID: s.id, SessionID: s.session, Locator: "skd://x", Kind: domain.RequestKindInitial}
		ts := base.Add(time.Duration(i) * time.Second)
		if err := repo.RecordTransition(ctx, domain.Transition{Request: req, To: domain.StateCreated, Timestamp: ts}); err != nil {
			t.Fatalf("RecordTransition failed: %v", err)
		}
	}

	records, err := repo.ListBySession(ctx, "session-1", 0)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "req-1" || records[1].ID != "req-3" {
		t.Errorf("unexpected records: %+v", records)
	}

	all, err := repo.ListBySession(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("want 2 records with limit, got %d", len(all))
	}
}
