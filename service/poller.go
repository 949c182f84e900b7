package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/pkg/clock"
)

// Budget bounds one polling phase: how often to query and how long the
// whole phase may take from its own start.
type Budget struct {
	Interval   time.Duration
	MaxElapsed time.Duration
}

// Status classes produced by classifyStatus
const (
	statusReady        = "ready"
	statusProcessing   = "still_processing"
	statusUnrecognized = "unrecognized"
)

// Terminal outcomes of a polling phase
const (
	OutcomeReady     = "ready"
	OutcomeTimedOut  = "timed_out"
	OutcomeCancelled = "cancelled"
)

// TerminalOutcome is the result of one polling phase.
type TerminalOutcome struct {
	Kind      string
	DirectURL string // download URL reported by the status query, if any
	Attempts  int
}

// StatusFetcher is the slice of the gateway the poller needs.
type StatusFetcher interface {
	GetStatus(ctx context.Context, reference string) (*StatusResponse, error)
}

// StatusPoller repeatedly queries submission status until the document
// is ready, the budget is exhausted, or the caller cancels.
type StatusPoller struct {
	fetcher              StatusFetcher
	clock                clock.Clock
	maxConsecutiveErrors int
}

func NewStatusPoller(fetcher StatusFetcher, clk clock.Clock, maxConsecutiveErrors int) *StatusPoller {
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = 5
	}
	return &StatusPoller{
		fetcher:              fetcher,
		clock:                clk,
		maxConsecutiveErrors: maxConsecutiveErrors,
	}
}

// classifyStatus maps an inconsistent status response onto one class.
// The backend signals readiness through any of three fields, so they
// are OR-combined instead of requiring one canonical field.
func classifyStatus(resp *StatusResponse) string {
	if resp.Status == "completed" || resp.Status == "processed" || resp.PDFReady || resp.DownloadURL != "" {
		return statusReady
	}
	switch resp.Status {
	case "pending", "processing", "queued":
		return statusProcessing
	}
	return statusUnrecognized
}

// PollUntilTerminal polls status for reference under the given budget.
// The elapsed budget is measured from this call, not from submission
// creation, so each retry of the outer flow gets a fresh budget.
// Unknown status strings keep the loop alive; only the budget, a run of
// consecutive transport errors, or context cancellation end it without
// a ready document. onAttempt, if set, is invoked after every completed
// status query with the running attempt count.
func (p *StatusPoller) PollUntilTerminal(ctx context.Context, reference string, budget Budget, onAttempt func(attempts int)) TerminalOutcome {
	started := p.clock.Now()
	attempts := 0
	consecutiveErrors := 0

	for {
		if ctx.Err() != nil {
			return TerminalOutcome{Kind: OutcomeCancelled, Attempts: attempts}
		}

		if p.clock.Now().Sub(started) > budget.MaxElapsed {
			slog.Warn("polling budget exhausted",
				"reference", reference,
				"attempts", attempts,
				"max_elapsed", budget.MaxElapsed,
			)
			return TerminalOutcome{Kind: OutcomeTimedOut, Attempts: attempts}
		}

		resp, err := p.fetcher.GetStatus(ctx, reference)
		if err != nil {
			if ctx.Err() != nil {
				return TerminalOutcome{Kind: OutcomeCancelled, Attempts: attempts}
			}
			consecutiveErrors++
			slog.Warn("status query failed",
				"reference", reference,
				"consecutive_errors", consecutiveErrors,
				"error", err,
			)
			if consecutiveErrors > p.maxConsecutiveErrors {
				return TerminalOutcome{Kind: OutcomeTimedOut, Attempts: attempts}
			}
			if !p.sleep(ctx, budget.Interval) {
				return TerminalOutcome{Kind: OutcomeCancelled, Attempts: attempts}
			}
			continue
		}
		consecutiveErrors = 0
		attempts++
		if onAttempt != nil {
			onAttempt(attempts)
		}

		switch classifyStatus(resp) {
		case statusReady:
			return TerminalOutcome{Kind: OutcomeReady, DirectURL: resp.DownloadURL, Attempts: attempts}
		case statusUnrecognized:
			slog.Warn("unrecognized status, continuing to poll",
				"reference", reference,
				"status", resp.Status,
			)
		}

		if !p.sleep(ctx, budget.Interval) {
			return TerminalOutcome{Kind: OutcomeCancelled, Attempts: attempts}
		}
	}
}

// sleep waits one interval, returning false if cancelled first.
func (p *StatusPoller) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
