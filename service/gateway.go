package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/config"
)

// GatewayService is the client for the remote payments/document backend.
type GatewayService struct {
	config     *config.GatewayConfig
	httpClient *http.Client
}

// InitiateRequest represents the request to create a submission
type InitiateRequest struct {
	Email        string         `json:"email"`
	DocumentType string         `json:"documentType"`
	FormData     map[string]any `json:"formData,omitempty"`
}

// InitiateResponse represents the response from submission creation
type InitiateResponse struct {
	Reference  string `json:"reference"`
	TillNumber string `json:"tillNumber"`
	TillName   string `json:"tillName"`
	Amount     int    `json:"amount"`
}

type validateRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

type validateResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StatusResponse represents the status query response. The backend is
// inconsistent about which field it sets when a document is ready, so
// all three are optional and OR-combined by classifyStatus.
type StatusResponse struct {
	Status      string `json:"status"`
	PDFReady    bool   `json:"pdf_ready,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Validation results
const (
	ValidationConfirmed = "confirmed"
	ValidationFallback  = "pending_admin_fallback"
	ValidationRejected  = "rejected"
)

// Error classes carried on a rejected outcome so callers can tell a
// semantically rejected code apart from a network failure.
const (
	ErrorClassNone      = ""
	ErrorClassRejection = "remote_rejection"
	ErrorClassTransport = "transport"
)

// ValidationOutcome is the classified result of a code validation call.
type ValidationOutcome struct {
	Result     string `json:"result"`
	ErrorClass string `json:"error_class,omitempty"`
	Message    string `json:"message,omitempty"`
}

func NewGatewayService(cfg *config.GatewayConfig) *GatewayService {
	return &GatewayService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NormalizeCode canonicalizes a user-entered confirmation code before
// it is sent to the gateway.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Initiate creates a new submission on the payments backend
func (s *GatewayService) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/payments/initiate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(httpReq)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result InitiateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Reference == "" {
		return nil, fmt.Errorf("gateway returned no reference")
	}

	return &result, nil
}

// Validate submits a confirmation code for a reference and classifies
// the outcome. Transport failures are reported as a rejected outcome
// with a transport error class rather than an error, so every exit maps
// to exactly one state transition. Safe to call repeatedly with the
// same code.
func (s *GatewayService) Validate(ctx context.Context, reference, code string) ValidationOutcome {
	reqBody := validateRequest{
		Reference: reference,
		Code:      NormalizeCode(code),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return ValidationOutcome{
			Result:     ValidationRejected,
			ErrorClass: ErrorClassTransport,
			Message:    "could not reach the payment service, please try again",
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/payments/validate", bytes.NewBuffer(jsonData))
	if err != nil {
		return ValidationOutcome{
			Result:     ValidationRejected,
			ErrorClass: ErrorClassTransport,
			Message:    "could not reach the payment service, please try again",
		}
	}
	s.setHeaders(httpReq)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return ValidationOutcome{
			Result:     ValidationRejected,
			ErrorClass: ErrorClassTransport,
			Message:    "could not reach the payment service, please try again",
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ValidationOutcome{
			Result:     ValidationRejected,
			ErrorClass: ErrorClassTransport,
			Message:    "could not reach the payment service, please try again",
		}
	}

	var result validateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return ValidationOutcome{
			Result:     ValidationRejected,
			ErrorClass: ErrorClassTransport,
			Message:    "unexpected response from the payment service",
		}
	}

	switch {
	case result.Success:
		return ValidationOutcome{Result: ValidationConfirmed}
	case result.Fallback:
		return ValidationOutcome{Result: ValidationFallback, Message: result.Message}
	default:
		msg := result.Message
		if msg == "" {
			msg = "transaction code was not recognized"
		}
		return ValidationOutcome{
			Result:     ValidationRejected,
			ErrorClass: ErrorClassRejection,
			Message:    msg,
		}
	}
}

// GetStatus queries the processing status for a reference
func (s *GatewayService) GetStatus(ctx context.Context, reference string) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/payments/status/%s", s.config.BaseURL, reference), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway error: status %d", resp.StatusCode)
	}

	var result StatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// VerifyCallback verifies the provider callback checksum.
// Checksum = SHA256(reference + seed + content)
func (s *GatewayService) VerifyCallback(checksum, content, reference string) bool {
	data := reference + s.config.Seed + content
	hash := sha256.Sum256([]byte(data))
	expected := hex.EncodeToString(hash[:])
	return checksum == expected
}

func (s *GatewayService) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
}
