package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
)

func TestCreateAccount(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["username"] != "alice" {
			t.Errorf("expected username alice, got %s", req["username"])
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "prov-123"})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, Token: "tok"})
	id, err := c.CreateAccount(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if id != "prov-123" {
		t.Errorf("expected prov-123, got %s", id)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotPath != "/api/accounts" {
		t.Errorf("unexpected path %s", gotPath)
	}
}

func TestDisableAccountPath(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	if err := c.DisableAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/accounts/acct-1/disable" {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		sentinel  error
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, apperrors.ErrProviderAuthFailure, false},
		{"forbidden", http.StatusForbidden, apperrors.ErrProviderAuthFailure, false},
		{"rate limited", http.StatusTooManyRequests, apperrors.ErrProviderTimeout, true},
		{"server error", http.StatusInternalServerError, apperrors.ErrProviderUnavailable, true},
		{"bad gateway", http.StatusBadGateway, apperrors.ErrProviderUnavailable, true},
		{"not found", http.StatusNotFound, apperrors.ErrProviderBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
			err := c.EnableAccount(context.Background(), "acct-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v classification, got %v", tt.sentinel, err)
			}
			if apperrors.IsRetryableError(err) != tt.retryable {
				t.Errorf("expected retryable=%v for status %d", tt.retryable, tt.status)
			}

			var govErr *apperrors.GovernanceError
			if !errors.As(err, &govErr) || govErr.StatusCode != tt.status {
				t.Errorf("expected status code %d on the error, got %+v", tt.status, govErr)
			}
		})
	}
}

func TestTransportTimeoutClassifiedRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	err := c.EnableAccount(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, apperrors.ErrProviderTimeout) {
		t.Errorf("expected timeout classification, got %v", err)
	}
	if !apperrors.IsRetryableError(err) {
		t.Error("timeouts must be retryable")
	}
}

func TestUnreachableProviderClassifiedUnavailable(t *testing.T) {
	// Grab a port that nothing is listening on
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: addr})
	err := c.DisableAccount(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Errorf("expected unavailable classification, got %v", err)
	}
	if !apperrors.IsRetryableError(err) {
		t.Error("connection failures must be retryable")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"healthy": true, "latencyMs": 12})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	health, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !health.Healthy {
		t.Error("expected healthy")
	}
	if health.Latency != 12*time.Millisecond {
		t.Errorf("expected 12ms latency, got %s", health.Latency)
	}
}
