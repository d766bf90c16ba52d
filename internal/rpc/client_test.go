package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tos-network/goldrush/internal/domain"
)

func TestNewClient(t *testing.T) {
	c := New("http://localhost:8000", 5*time.Second)
	if c == nil {
		t.Fatal("New returned nil")
	}
	if !c.IsHealthy() {
		t.Error("client should be healthy initially")
	}
}

func TestClientExplore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/explore" {
			t.Errorf("path = %s, want /explore", r.URL.Path)
		}
		var req struct {
			PosX, PosY, SizeX, SizeY uint64
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"area":   map[string]uint64{"posX": req.PosX, "posY": req.PosY, "sizeX": req.SizeX, "sizeY": req.SizeY},
			"amount": 7,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	e, err := c.Explore(context.Background(), domain.Area{PosX: 1, PosY: 2, SizeX: 3, SizeY: 4})
	if err != nil {
		t.Fatalf("Explore() error = %v", err)
	}
	if e.Amount != 7 {
		t.Errorf("Amount = %d, want 7", e.Amount)
	}
	if !c.IsHealthy() {
		t.Error("client should remain healthy after success")
	}
}

func TestClientDigNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	treasures, ok, err := c.Dig(context.Background(), domain.Dig{LicenseID: 1, PosX: 0, PosY: 0, Depth: 1})
	if err != nil {
		t.Fatalf("Dig() error = %v, want nil (404 is a normal outcome)", err)
	}
	if ok {
		t.Error("ok = true, want false on 404")
	}
	if treasures != nil {
		t.Errorf("treasures = %v, want nil", treasures)
	}
	if !c.IsHealthy() {
		t.Error("a documented 404 must not count as a failure")
	}
}

func TestClientDigFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]string{"tok1", "tok2"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	treasures, ok, err := c.Dig(context.Background(), domain.Dig{LicenseID: 1, PosX: 0, PosY: 0, Depth: 1})
	if err != nil {
		t.Fatalf("Dig() error = %v", err)
	}
	if !ok || len(treasures) != 2 {
		t.Errorf("treasures = %v, ok = %v, want 2 tokens, ok=true", treasures, ok)
	}
}

func TestClientRecordsFailureOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	for i := 0; i < 3; i++ {
		if _, err := c.License(context.Background(), nil); err == nil {
			t.Fatal("License() error = nil, want error on 500")
		}
	}
	if c.IsHealthy() {
		t.Error("client should be unhealthy after 3 consecutive failures")
	}

	var apiErr *APIError
	_, err := c.License(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if ae, ok := err.(*APIError); !ok {
		t.Fatalf("error type = %T, want *APIError", err)
	} else {
		apiErr = ae
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
}

func TestClientCash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		json.NewDecoder(r.Body).Decode(&token)
		if token != "abc" {
			t.Errorf("token = %q, want abc", token)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]uint64{42})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	coins, err := c.Cash(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Cash() error = %v", err)
	}
	if len(coins) != 1 || coins[0] != 42 {
		t.Errorf("coins = %v, want [42]", coins)
	}
}

func TestClientRetryCashRetriesOn4xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]uint64{7})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	coins, err := c.RetryCash(ctx, "abc", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("RetryCash() error = %v, want nil (unconditional retry)", err)
	}
	if len(coins) != 1 || coins[0] != 7 {
		t.Errorf("coins = %v, want [7]", coins)
	}
	if attempts < 3 {
		t.Errorf("attempts = %d, want >= 3", attempts)
	}
}

func TestClientRetryCashGivesUpWhenContextDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.RetryCash(ctx, "abc", 10*time.Millisecond); err == nil {
		t.Fatal("RetryCash() error = nil, want context deadline error")
	}
}

func TestClientRetryLicenseRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.License{ID: 9, DigAllowed: 3})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lic, err := c.RetryLicense(ctx, nil, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("RetryLicense() error = %v", err)
	}
	if lic.ID != 9 {
		t.Errorf("ID = %d, want 9", lic.ID)
	}
	if attempts < 3 {
		t.Errorf("attempts = %d, want >= 3", attempts)
	}
}
