package infra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"content-key-service/internal/domain"
)

func TestLicenseClient_Exchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("want POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("want octet-stream content type, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Equal(body, []byte{0xAA}) {
			t.Errorf("want SPC aa, got %x", body)
		}
		w.Write([]byte{0xCC, 0xCC})
	}))
	defer srv.Close()

	c := NewLicenseClient(NewHTTPClient(5*time.Second), "application/octet-stream")
	ckc, err := c.Exchange(context.Background(), srv.URL, []byte{0xAA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(ckc, []byte{0xCC, 0xCC}) {
		t.Errorf("want cccc, got %x", ckc)
	}
}

func TestLicenseClient_Exchange_NoContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			t.Errorf("want no content type, got %q", ct)
		}
		w.Write([]byte{0xCC})
	}))
	defer srv.Close()

	c := NewLicenseClient(NewHTTPClient(5*time.Second), "")
	if _, err := c.Exchange(context.Background(), srv.URL, []byte{0xAA}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLicenseClient_Exchange_Failures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        []byte
		wantFailure domain.ExchangeFailure
		wantCause   error
	}{
		{name: "forbidden", status: http.StatusForbidden, body: []byte("denied"), wantFailure: domain.ExchangeFailureNonSuccessStatus, wantCause: domain.ErrNonSuccessStatus},
		{name: "server error", status: http.StatusInternalServerError, wantFailure: domain.ExchangeFailureNonSuccessStatus, wantCause: domain.ErrNonSuccessStatus},
		{name: "empty body", status: http.StatusOK, wantFailure: domain.ExchangeFailureEmptyBody, wantCause: domain.ErrEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))
			defer srv.Close()

			c := NewLicenseClient(NewHTTPClient(5*time.Second), "application/octet-stream")
			ckc, err := c.Exchange(context.Background(), srv.URL, []byte{0xAA})
			if ckc != nil {
				t.Errorf("want no key, got %x", ckc)
			}
			if !errors.Is(err, domain.ErrLicenseExchangeFailed) || !errors.Is(err, tt.wantCause) {
				t.Fatalf("want %v, got %v", tt.wantCause, err)
			}
			ke := domain.AsKeyError(err)
			if ke.Failure != tt.wantFailure || ke.StatusCode != tt.status {
				t.Errorf("want %s/%d, got %s/%d", tt.wantFailure, tt.status, ke.Failure, ke.StatusCode)
			}
		})
	}
}

func TestLicenseClient_Exchange_Transport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewLicenseClient(NewHTTPClient(5*time.Second), "application/octet-stream")
	_, err := c.Exchange(context.Background(), url, []byte{0xAA})
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("want ErrTransport, got %v", err)
	}
}

func TestLicenseClient_Exchange_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewLicenseClient(NewHTTPClient(50*time.Millisecond), "application/octet-stream")
	start := time.Now()
	ckc, err := c.Exchange(context.Background(), srv.URL, []byte{0xAA})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("exchange should give up at the client timeout, took %s", elapsed)
	}
	if ckc != nil {
		t.Errorf("want no key, got %x", ckc)
	}
	if !errors.Is(err, domain.ErrLicenseExchangeFailed) {
		t.Fatalf("want ErrLicenseExchangeFailed, got %v", err)
	}
	ke := domain.AsKeyError(err)
	if ke.Failure != domain.ExchangeFailureTransport {
		t.Errorf("want TRANSPORT_ERROR, got %s", ke.Failure)
	}
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("want ErrTransport cause, got %v", err)
	}
}
