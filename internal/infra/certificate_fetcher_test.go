package infra

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"content-key-service/internal/domain"
)

func TestCertificateClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("want GET, got %s", r.Method)
		}
		w.Write([]byte{0x01, 0x02})
	}))
	defer srv.Close()

	c := NewCertificateClient(NewHTTPClient(5 * time.Second))
	cert, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(cert, []byte{0x01, 0x02}) {
		t.Errorf("want 0102, got %x", cert)
	}
}

func TestCertificateClient_Fetch_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("not found"))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewCertificateClient(NewHTTPClient(5 * time.Second))
			_, err := c.Fetch(context.Background(), srv.URL)
			if !errors.Is(err, domain.ErrCertificateUnavailable) {
				t.Fatalf("want ErrCertificateUnavailable, got %v", err)
			}
			if ke := domain.AsKeyError(err); ke.StatusCode != tt.wantStatus {
				t.Errorf("want status %d, got %d", tt.wantStatus, ke.StatusCode)
			}
		})
	}
}

func TestCertificateClient_Fetch_Transport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewCertificateClient(NewHTTPClient(5 * time.Second))
	_, err := c.Fetch(context.Background(), url)
	if !errors.Is(err, domain.ErrCertificateUnavailable) {
		t.Errorf("want ErrCertificateUnavailable, got %v", err)
	}
}

func TestCertificateClient_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewCertificateClient(NewHTTPClient(50 * time.Millisecond))
	start := time.Now()
	cert, err := c.Fetch(context.Background(), srv.URL)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("fetch should give up at the client timeout, took %s", elapsed)
	}
	if cert != nil {
		t.Errorf("want no certificate, got %x", cert)
	}
	if !errors.Is(err, domain.ErrCertificateUnavailable) {
		t.Errorf("want ErrCertificateUnavailable, got %v", err)
	}
}
