package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/config"
	"github.com/MwailaCoding/prowrite-delivery/model"
	"github.com/MwailaCoding/prowrite-delivery/pkg/clock"
	"github.com/google/uuid"
)

// StateChange is pushed to subscribers on every submission transition.
type StateChange struct {
	Reference string `json:"reference"`
	From      string `json:"from"`
	To        string `json:"to"`
	LastError string `json:"last_error,omitempty"`
}

// StateChangeFunc receives state transitions for one submission.
// Callbacks run with the orchestrator lock held and must not call back
// into the orchestrator.
type StateChangeFunc func(StateChange)

// SubmitRequest carries the contact info for a new paid-document request.
type SubmitRequest struct {
	Email        string         `json:"email"`
	DocumentType string         `json:"document_type"`
	Username     string         `json:"username,omitempty"`
	FormData     map[string]any `json:"form_data,omitempty"`
}

// SubmitResult is returned to the UI after a submission is created:
// the record plus the till the user should pay at.
type SubmitResult struct {
	Submission *model.Submission `json:"submission"`
	TillNumber string            `json:"till_number"`
	TillName   string            `json:"till_name"`
}

// submissionRuntime is the in-memory bookkeeping for one reference:
// the cancel func of the active poll loop, the budget chosen at the
// confirmation branch, and state subscribers.
type submissionRuntime struct {
	cancelPoll  context.CancelFunc
	budget      Budget
	hasBudget   bool
	subscribers []StateChangeFunc
}

// Orchestrator composes the gateway, poller, resolver, and store into
// the end-to-end payment-confirmation-to-delivery flow. Each reference
// is an isolated state machine with at most one active poll loop.
type Orchestrator struct {
	cfg      *config.Config
	gateway  *GatewayService
	poller   *StatusPoller
	resolver *ArtifactResolver
	store    *SubmissionStore
	clock    clock.Clock

	mu      sync.Mutex
	runtime map[string]*submissionRuntime
}

func NewOrchestrator(cfg *config.Config, gateway *GatewayService, poller *StatusPoller, resolver *ArtifactResolver, store *SubmissionStore, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		gateway:  gateway,
		poller:   poller,
		resolver: resolver,
		store:    store,
		clock:    clk,
		runtime:  make(map[string]*submissionRuntime),
	}
}

// FastBudget is the polling budget after an auto-confirmed payment.
func (o *Orchestrator) FastBudget() Budget {
	return Budget{
		Interval:   time.Duration(o.cfg.Polling.Fast.IntervalMs) * time.Millisecond,
		MaxElapsed: time.Duration(o.cfg.Polling.Fast.MaxElapsedMs) * time.Millisecond,
	}
}

// SlowBudget is the polling budget when confirmation fell back to a
// human admin; manual confirmation is slower, so both the interval and
// the overall ceiling are longer.
func (o *Orchestrator) SlowBudget() Budget {
	return Budget{
		Interval:   time.Duration(o.cfg.Polling.Slow.IntervalMs) * time.Millisecond,
		MaxElapsed: time.Duration(o.cfg.Polling.Slow.MaxElapsedMs) * time.Millisecond,
	}
}

func (o *Orchestrator) initialDelay() time.Duration {
	return time.Duration(o.cfg.Polling.InitialDelayMs) * time.Millisecond
}

// Submit validates contact info, creates the submission on the
// payments backend, and returns the record in awaiting_confirmation.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	sub, err := model.NewSubmission(uuid.New().String(), req.Email, req.DocumentType, o.cfg.DocumentAmounts())
	if err != nil {
		return nil, err
	}
	sub.Username = req.Username

	resp, err := o.gateway.Initiate(ctx, &InitiateRequest{
		Email:        req.Email,
		DocumentType: req.DocumentType,
		FormData:     req.FormData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate submission: %w", err)
	}

	sub.Reference = resp.Reference
	if resp.Amount != 0 && resp.Amount != sub.Amount {
		slog.Warn("gateway amount differs from local price table",
			"reference", sub.Reference,
			"local", sub.Amount,
			"gateway", resp.Amount,
		)
		sub.Amount = resp.Amount
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.Save(sub); err != nil {
		return nil, err
	}
	if err := o.applyTransition(sub, model.StateAwaitingConfirmation, "", false); err != nil {
		return nil, err
	}

	return &SubmitResult{
		Submission: sub,
		TillNumber: resp.TillNumber,
		TillName:   resp.TillName,
	}, nil
}

// ValidateCode submits a user-entered confirmation code. Confirmed
// enters processing on the fast budget, a fallback acceptance enters
// processing on the slow budget, and a rejection leaves the submission
// in awaiting_confirmation so the user can try again. Revalidating an
// already confirmed submission is a no-op beyond the gateway call.
func (o *Orchestrator) ValidateCode(ctx context.Context, reference, code string) (ValidationOutcome, error) {
	if NormalizeCode(code) == "" {
		return ValidationOutcome{}, &model.ValidationError{Field: "code", Message: "confirmation code is required"}
	}

	sub, err := o.store.Get(reference)
	if err != nil {
		return ValidationOutcome{}, err
	}
	if sub == nil {
		return ValidationOutcome{}, fmt.Errorf("submission %s not found", reference)
	}

	switch sub.State {
	case model.StateAwaitingConfirmation:
		// proceed
	case model.StateValidating, model.StateProcessing, model.StateCompleted:
		// Resubmitting the same code is safe; report the gateway's
		// answer without touching the state machine.
		return o.gateway.Validate(ctx, reference, code), nil
	default:
		return ValidationOutcome{}, fmt.Errorf("submission %s is %s, cannot validate", reference, sub.State)
	}

	o.mu.Lock()
	if err := o.applyTransition(sub, model.StateValidating, "", false); err != nil {
		o.mu.Unlock()
		return ValidationOutcome{}, err
	}
	o.mu.Unlock()

	outcome := o.gateway.Validate(ctx, reference, code)

	switch outcome.Result {
	case ValidationConfirmed:
		o.enterProcessing(sub, o.FastBudget(), o.initialDelay())
	case ValidationFallback:
		o.enterProcessing(sub, o.SlowBudget(), 0)
	default:
		o.mu.Lock()
		if err := o.applyTransition(sub, model.StateAwaitingConfirmation, outcome.Message, false); err != nil {
			o.mu.Unlock()
			return outcome, err
		}
		o.mu.Unlock()
	}

	return outcome, nil
}

// ConfirmFromCallback moves a submission into processing when the
// payment provider confirmed it directly, without a user-entered code.
func (o *Orchestrator) ConfirmFromCallback(reference string) error {
	sub, err := o.store.Get(reference)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("submission %s not found", reference)
	}

	switch sub.State {
	case model.StateProcessing, model.StateCompleted:
		return nil // already confirmed
	case model.StateAwaitingConfirmation, model.StateValidating:
		o.enterProcessing(sub, o.FastBudget(), o.initialDelay())
		return nil
	default:
		return fmt.Errorf("submission %s is %s, cannot confirm", reference, sub.State)
	}
}

// FailFromCallback marks a submission failed on a provider-reported
// payment failure. Any active poll loop is stopped first.
func (o *Orchestrator) FailFromCallback(reference, reason string) error {
	sub, err := o.store.Get(reference)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("submission %s not found", reference)
	}
	if model.IsTerminal(sub.State) {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopPollingLocked(reference)
	return o.applyTransition(sub, model.StateFailed, reason, false)
}

// Download triggers artifact delivery for a completed submission. It
// is idempotent and never changes submission state; a delivery that
// fails on every candidate is surfaced for manual retry instead of
// failing the submission.
func (o *Orchestrator) Download(ctx context.Context, reference string) (DownloadOutcome, error) {
	sub, err := o.store.Get(reference)
	if err != nil {
		return DownloadOutcome{}, err
	}
	if sub == nil {
		return DownloadOutcome{}, fmt.Errorf("submission %s not found", reference)
	}
	if sub.State != model.StateCompleted {
		return DownloadOutcome{}, fmt.Errorf("submission %s is %s, nothing to download", reference, sub.State)
	}

	candidates := o.resolver.Candidates(reference, sub.ArtifactURL)
	return o.resolver.Download(ctx, reference, candidates), nil
}

// Cancel stops any active poll loop for the reference. It is not a
// failure: the submission keeps its current state and a later retry or
// validation starts fresh. No state change callbacks fire after Cancel
// returns.
func (o *Orchestrator) Cancel(reference string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopPollingLocked(reference) {
		slog.Info("polling abandoned", "reference", reference)
	}
}

// Retry resets a failed submission back to the start of its lifecycle.
// The server-issued reference is reused rather than re-initiated: it is
// the correlation key for money already in flight, and discarding it
// would orphan a paid submission.
func (o *Orchestrator) Retry(reference string) (*model.Submission, error) {
	sub, err := o.store.Get(reference)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s not found", reference)
	}
	if sub.State != model.StateFailed {
		return nil, fmt.Errorf("submission %s is %s, only failed submissions can be retried", reference, sub.State)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopPollingLocked(reference)

	sub.Attempts = 0
	sub.LastError = ""
	sub.ArtifactURL = ""
	sub.StartedPollingAt = time.Time{}
	if err := o.store.Save(sub); err != nil {
		return nil, err
	}

	if err := o.applyTransition(sub, model.StateCreated, "", true); err != nil {
		return nil, err
	}
	if err := o.applyTransition(sub, model.StateAwaitingConfirmation, "", false); err != nil {
		return nil, err
	}
	return sub, nil
}

// ArchiveURL returns a presigned link to the archived copy of a
// completed submission's artifact, or an empty string when no archive
// is configured.
func (o *Orchestrator) ArchiveURL(ctx context.Context, reference string) (string, error) {
	sub, err := o.store.Get(reference)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", fmt.Errorf("submission %s not found", reference)
	}
	if sub.State != model.StateCompleted {
		return "", fmt.Errorf("submission %s is %s, no artifact archived", reference, sub.State)
	}
	return o.resolver.ArchiveURL(ctx, reference)
}

// Remove deletes a terminal submission and its archived artifact.
// Active submissions cannot be removed; cancel or retry them first.
func (o *Orchestrator) Remove(ctx context.Context, reference string) error {
	sub, err := o.store.Get(reference)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("submission %s not found", reference)
	}
	if !model.IsTerminal(sub.State) {
		return fmt.Errorf("submission %s is %s, only completed or failed submissions can be removed", reference, sub.State)
	}

	if err := o.resolver.Discard(ctx, reference); err != nil {
		slog.Warn("failed to discard archived artifact", "reference", reference, "error", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runtime, reference)
	return o.store.Delete(reference)
}

// Get returns the current submission record for a reference.
func (o *Orchestrator) Get(reference string) (*model.Submission, error) {
	return o.store.Get(reference)
}

// List returns all submissions for a username.
func (o *Orchestrator) List(username string) ([]*model.Submission, error) {
	return o.store.GetByUser(username)
}

// OnStateChange registers a callback for transitions of one reference.
func (o *Orchestrator) OnStateChange(reference string, fn StateChangeFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt := o.ensureRuntimeLocked(reference)
	rt.subscribers = append(rt.subscribers, fn)
}

// ResumePolling restarts the poll loop for a submission already in
// processing, e.g. after a UI remount. The prior loop is cancelled
// before the new one starts so terminal handling never runs twice.
// The budget chosen at the confirmation branch is kept; if it is no
// longer known the fast budget applies.
func (o *Orchestrator) ResumePolling(reference string) error {
	sub, err := o.store.Get(reference)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("submission %s not found", reference)
	}
	if sub.State != model.StateProcessing {
		return fmt.Errorf("submission %s is %s, nothing to resume", reference, sub.State)
	}

	o.mu.Lock()
	budget := o.FastBudget()
	if rt, ok := o.runtime[reference]; ok && rt.hasBudget {
		budget = rt.budget
	}
	o.mu.Unlock()

	o.enterProcessing(sub, budget, 0)
	return nil
}

// enterProcessing resets the polling counters, transitions into
// processing, and starts the single poll loop for the reference. Any
// prior loop is cancelled first so terminal handling never runs twice.
// Re-entering processing is a fresh phase: attempts restart at zero.
func (o *Orchestrator) enterProcessing(sub *model.Submission, budget Budget, delay time.Duration) {
	o.mu.Lock()
	o.stopPollingLocked(sub.Reference)

	sub.Attempts = 0
	sub.LastError = ""
	sub.StartedPollingAt = o.clock.Now()
	if err := o.store.Save(sub); err != nil {
		slog.Error("failed to persist processing entry", "reference", sub.Reference, "error", err)
	}
	if sub.State != model.StateProcessing {
		if err := o.applyTransition(sub, model.StateProcessing, "", false); err != nil {
			o.mu.Unlock()
			slog.Error("failed to enter processing", "reference", sub.Reference, "error", err)
			return
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rt := o.ensureRuntimeLocked(sub.Reference)
	rt.cancelPoll = cancel
	rt.budget = budget
	rt.hasBudget = true
	o.mu.Unlock()

	go o.runPolling(loopCtx, sub.Reference, budget, delay)
}

// runPolling drives one processing phase to its terminal outcome.
func (o *Orchestrator) runPolling(ctx context.Context, reference string, budget Budget, delay time.Duration) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(delay):
		}
	}

	outcome := o.poller.PollUntilTerminal(ctx, reference, budget, func(attempts int) {
		if err := o.store.UpdateAttempts(reference, attempts); err != nil {
			slog.Warn("failed to persist attempt count", "reference", reference, "error", err)
		}
	})

	switch outcome.Kind {
	case OutcomeReady:
		candidates := o.resolver.Candidates(reference, outcome.DirectURL)
		if !o.finishPolling(ctx, reference, model.StateCompleted, "", candidates[0]) {
			return
		}
		// Trigger delivery immediately; a failure here is retryable
		// via Download and never un-completes the submission. The poll
		// context was released at the terminal transition, so delivery
		// runs on its own context.
		dl := o.resolver.Download(context.Background(), reference, candidates)
		if dl.Triggered && dl.URL != candidates[0] {
			// The first candidate was recorded optimistically; keep
			// the location that actually answered.
			o.mu.Lock()
			if err := o.store.SetArtifactURL(reference, dl.URL); err != nil {
				slog.Warn("failed to record working artifact url", "reference", reference, "error", err)
			}
			o.mu.Unlock()
		}
	case OutcomeTimedOut:
		o.finishPolling(ctx, reference, model.StateFailed, "processing timeout", "")
	case OutcomeCancelled:
		slog.Debug("poll loop cancelled", "reference", reference)
	}
}

// finishPolling applies the terminal transition of a poll loop unless
// the loop was cancelled. The cancellation check and the transition
// happen under the same lock Cancel takes, so once Cancel returns no
// further transition for that loop can fire.
func (o *Orchestrator) finishPolling(ctx context.Context, reference, state, lastError, artifactURL string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	// The loop is ending on its own terms; ctx is still live, so the
	// stored cancel func is this loop's own. Release it now.
	if rt, ok := o.runtime[reference]; ok && rt.cancelPoll != nil {
		rt.cancelPoll()
		rt.cancelPoll = nil
	}

	sub, err := o.store.Get(reference)
	if err != nil || sub == nil {
		slog.Error("failed to load submission at poll end", "reference", reference, "error", err)
		return false
	}
	if sub.State != model.StateProcessing {
		return false
	}

	if artifactURL != "" {
		if err := o.store.SetArtifactURL(reference, artifactURL); err != nil {
			slog.Error("failed to record artifact url", "reference", reference, "error", err)
		}
		sub.ArtifactURL = artifactURL
	}
	if err := o.applyTransition(sub, state, lastError, false); err != nil {
		slog.Error("failed terminal transition", "reference", reference, "error", err)
		return false
	}
	return true
}

// applyTransition validates, persists, and announces one state change.
// Must be called with o.mu held.
func (o *Orchestrator) applyTransition(sub *model.Submission, to, lastError string, viaRetry bool) error {
	if !viaRetry && !model.CanTransition(sub.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", sub.State, to, sub.Reference)
	}

	change := StateChange{
		Reference: sub.Reference,
		From:      sub.State,
		To:        to,
		LastError: lastError,
	}
	sub.State = to
	sub.LastError = lastError

	if err := o.store.UpdateState(sub.Reference, to, lastError); err != nil {
		return err
	}

	slog.Info("submission state changed",
		"reference", sub.Reference,
		"from", change.From,
		"to", change.To,
	)

	if rt, ok := o.runtime[sub.Reference]; ok {
		for _, fn := range rt.subscribers {
			fn(change)
		}
	}
	return nil
}

// stopPollingLocked cancels the active poll loop if one exists.
// Must be called with o.mu held.
func (o *Orchestrator) stopPollingLocked(reference string) bool {
	rt, ok := o.runtime[reference]
	if !ok || rt.cancelPoll == nil {
		return false
	}
	rt.cancelPoll()
	rt.cancelPoll = nil
	return true
}

// ensureRuntimeLocked returns the runtime entry for a reference,
// creating it if needed. Must be called with o.mu held.
func (o *Orchestrator) ensureRuntimeLocked(reference string) *submissionRuntime {
	rt, ok := o.runtime[reference]
	if !ok {
		rt = &submissionRuntime{}
		o.runtime[reference] = rt
	}
	return rt
}
