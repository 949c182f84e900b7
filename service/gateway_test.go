package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MwailaCoding/prowrite-delivery/config"
)

func TestNewGatewayService(t *testing.T) {
	cfg := &config.GatewayConfig{
		BaseURL:  "https://api.prowrite.test",
		APIToken: "test-token",
	}

	svc := NewGatewayService(cfg)
	if svc == nil {
		t.Fatal("Expected non-nil service")
	}
	if svc.httpClient == nil {
		t.Error("Expected httpClient to be set")
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		"  abc123  ": "ABC123",
		"qGH7xy9p":   "QGH7XY9P",
		"ALREADY":    "ALREADY",
		"   ":        "",
	}
	for in, want := range cases {
		if got := NormalizeCode(in); got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGatewayInitiate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/payments/initiate" {
			t.Errorf("Expected /payments/initiate, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("Expected Authorization header")
		}

		var req InitiateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email != "person@example.com" {
			t.Errorf("Expected email in request, got %q", req.Email)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InitiateResponse{
			Reference:  "PW-2025-001",
			TillNumber: "123456",
			TillName:   "Prowrite Services",
			Amount:     200,
		})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL, APIToken: "test-token"})
	resp, err := svc.Initiate(context.Background(), &InitiateRequest{
		Email:        "person@example.com",
		DocumentType: "resume",
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Reference != "PW-2025-001" {
		t.Errorf("Expected reference 'PW-2025-001', got %q", resp.Reference)
	}
	if resp.TillNumber != "123456" {
		t.Errorf("Expected till number, got %q", resp.TillNumber)
	}
}

func TestGatewayInitiateMissingReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InitiateResponse{Amount: 200})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	_, err := svc.Initiate(context.Background(), &InitiateRequest{Email: "a@b.com", DocumentType: "resume"})
	if err == nil {
		t.Error("Expected error for response without a reference")
	}
}

func TestGatewayInitiateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	_, err := svc.Initiate(context.Background(), &InitiateRequest{Email: "a@b.com", DocumentType: "resume"})
	if err == nil {
		t.Error("Expected error for 500 response")
	}
}

func TestGatewayInitiateNetworkError(t *testing.T) {
	svc := NewGatewayService(&config.GatewayConfig{
		BaseURL: "http://invalid-host-that-does-not-exist:9999",
	})
	_, err := svc.Initiate(context.Background(), &InitiateRequest{Email: "a@b.com", DocumentType: "resume"})
	if err == nil {
		t.Error("Expected error for network failure")
	}
}

func TestGatewayValidateConfirmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/validate" {
			t.Errorf("Expected /payments/validate, got %s", r.URL.Path)
		}

		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Code != "QGH7XY9P" {
			t.Errorf("Expected normalized code QGH7XY9P, got %q", req.Code)
		}

		json.NewEncoder(w).Encode(validateResponse{Success: true})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	outcome := svc.Validate(context.Background(), "PW-1", "  qgh7xy9p ")

	if outcome.Result != ValidationConfirmed {
		t.Errorf("Expected confirmed, got %q", outcome.Result)
	}
	if outcome.ErrorClass != ErrorClassNone {
		t.Errorf("Expected no error class, got %q", outcome.ErrorClass)
	}
}

func TestGatewayValidateFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{
			Fallback: true,
			Message:  "queued for manual confirmation",
		})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	outcome := svc.Validate(context.Background(), "PW-1", "QGH7XY9P")

	if outcome.Result != ValidationFallback {
		t.Errorf("Expected fallback, got %q", outcome.Result)
	}
}

func TestGatewayValidateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{
			Success:   false,
			ErrorCode: "INVALID_CODE",
			Message:   "transaction not found",
		})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	outcome := svc.Validate(context.Background(), "PW-1", "WRONG")

	if outcome.Result != ValidationRejected {
		t.Errorf("Expected rejected, got %q", outcome.Result)
	}
	if outcome.ErrorClass != ErrorClassRejection {
		t.Errorf("Expected remote rejection class, got %q", outcome.ErrorClass)
	}
}

func TestGatewayValidateTransportErrorClass(t *testing.T) {
	// A dead host and a semantic rejection both come back as rejected,
	// but the error class must tell them apart.
	svc := NewGatewayService(&config.GatewayConfig{
		BaseURL: "http://invalid-host-that-does-not-exist:9999",
	})
	outcome := svc.Validate(context.Background(), "PW-1", "QGH7XY9P")

	if outcome.Result != ValidationRejected {
		t.Errorf("Expected rejected, got %q", outcome.Result)
	}
	if outcome.ErrorClass != ErrorClassTransport {
		t.Errorf("Expected transport class, got %q", outcome.ErrorClass)
	}
}

func TestGatewayValidateIdempotent(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(validateResponse{Success: true})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})

	first := svc.Validate(context.Background(), "PW-1", "QGH7XY9P")
	second := svc.Validate(context.Background(), "PW-1", "QGH7XY9P")

	if first.Result != ValidationConfirmed || second.Result != ValidationConfirmed {
		t.Errorf("Expected confirmed both times, got %q then %q", first.Result, second.Result)
	}
	if calls != 2 {
		t.Errorf("Expected 2 gateway calls, got %d", calls)
	}
}

func TestGatewayGetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/payments/status/PW-1" {
			t.Errorf("Expected /payments/status/PW-1, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(StatusResponse{
			Status:      "completed",
			PDFReady:    true,
			DownloadURL: "http://example.com/doc.pdf",
		})
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	status, err := svc.GetStatus(context.Background(), "PW-1")

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status.Status != "completed" || !status.PDFReady {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestGatewayGetStatusInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	svc := NewGatewayService(&config.GatewayConfig{BaseURL: server.URL})
	_, err := svc.GetStatus(context.Background(), "PW-1")
	if err == nil {
		t.Error("Expected error for invalid JSON response")
	}
}

func TestGatewayGetStatusNetworkError(t *testing.T) {
	svc := NewGatewayService(&config.GatewayConfig{
		BaseURL: "http://invalid-host-that-does-not-exist:9999",
	})
	_, err := svc.GetStatus(context.Background(), "PW-1")
	if err == nil {
		t.Error("Expected error for network failure")
	}
}

func TestGatewayVerifyCallback(t *testing.T) {
	svc := NewGatewayService(&config.GatewayConfig{Seed: "test-seed"})

	content := `{"reference":"PW-1","status":"confirmed"}`
	hash := sha256.Sum256([]byte("PW-1" + "test-seed" + content))
	checksum := hex.EncodeToString(hash[:])

	if !svc.VerifyCallback(checksum, content, "PW-1") {
		t.Error("Expected valid checksum to verify")
	}
	if svc.VerifyCallback("wrong-checksum", content, "PW-1") {
		t.Error("Expected invalid checksum to fail")
	}
	if svc.VerifyCallback(checksum, content, "PW-2") {
		t.Error("Expected checksum for a different reference to fail")
	}
}
