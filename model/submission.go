package model

import (
	"fmt"
	"net/mail"
	"time"
)

// Submission tracks one paid-document request from creation to delivery.
// The Reference is issued by the payments backend and is the correlation
// key for every validate/status/download call that follows.
type Submission struct {
	ID               string    `json:"id"`
	Reference        string    `json:"reference"`
	DocumentType     string    `json:"document_type"`
	Amount           int       `json:"amount"`
	ContactEmail     string    `json:"contact_email"`
	Username         string    `json:"username,omitempty"`
	State            string    `json:"state"`
	Attempts         int       `json:"attempts"`
	StartedPollingAt time.Time `json:"started_polling_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	ArtifactURL      string    `json:"artifact_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Submission states
const (
	StateCreated              = "created"
	StateAwaitingConfirmation = "awaiting_confirmation"
	StateValidating           = "validating"
	StateProcessing           = "processing"
	StateCompleted            = "completed"
	StateFailed               = "failed"
)

// stateRank orders states for the monotonicity check. Retry is the only
// transition allowed to move backward.
var stateRank = map[string]int{
	StateCreated:              0,
	StateAwaitingConfirmation: 1,
	StateValidating:           2,
	StateProcessing:           3,
	StateCompleted:            4,
	StateFailed:               4,
}

// CanTransition reports whether moving from one state to another keeps
// the forward-only ordering. Both terminal states share a rank, so a
// completed submission can never become failed or vice versa.
func CanTransition(from, to string) bool {
	fromRank, ok := stateRank[from]
	if !ok {
		return false
	}
	toRank, ok := stateRank[to]
	if !ok {
		return false
	}
	if from == StateCompleted || from == StateFailed {
		return false
	}
	// Rejected codes drop validating back to awaiting_confirmation.
	if from == StateValidating && to == StateAwaitingConfirmation {
		return true
	}
	return toRank > fromRank
}

// IsTerminal reports whether a state admits no further transitions
// other than an explicit retry.
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateFailed
}

// ValidationError marks bad local input that never reached the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewSubmission validates contact info and document type and returns a
// Submission in the created state. The amount is derived from the
// document type and never taken from the caller.
func NewSubmission(id, email, documentType string, amounts map[string]int) (*Submission, error) {
	if email == "" {
		return nil, &ValidationError{Field: "contact_email", Message: "email is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &ValidationError{Field: "contact_email", Message: "malformed email address"}
	}
	amount, ok := amounts[documentType]
	if !ok {
		return nil, &ValidationError{Field: "document_type", Message: fmt.Sprintf("unknown document type %q", documentType)}
	}

	now := time.Now()
	return &Submission{
		ID:           id,
		DocumentType: documentType,
		Amount:       amount,
		ContactEmail: email,
		State:        StateCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
