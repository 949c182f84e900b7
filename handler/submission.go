package handler

import (
	"net/http"

	"github.com/MwailaCoding/prowrite-delivery/middleware"
	"github.com/MwailaCoding/prowrite-delivery/model"
	"github.com/MwailaCoding/prowrite-delivery/service"
	"github.com/gin-gonic/gin"
)

type SubmissionHandler struct {
	orchestrator *service.Orchestrator
}

func NewSubmissionHandler(orch *service.Orchestrator) *SubmissionHandler {
	return &SubmissionHandler{orchestrator: orch}
}

type submitRequest struct {
	Email        string         `json:"email" binding:"required,email"`
	DocumentType string         `json:"document_type" binding:"required"`
	FormData     map[string]any `json:"form_data"`
}

type validateCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// Submit creates a new paid-document submission
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: email and document_type are required"})
		return
	}

	result, err := h.orchestrator.Submit(c.Request.Context(), &service.SubmitRequest{
		Email:        req.Email,
		DocumentType: req.DocumentType,
		Username:     middleware.GetUsername(c),
		FormData:     req.FormData,
	})
	if err != nil {
		if verr, ok := err.(*model.ValidationError); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create submission: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference":     result.Submission.Reference,
		"document_type": result.Submission.DocumentType,
		"amount":        result.Submission.Amount,
		"state":         result.Submission.State,
		"till_number":   result.TillNumber,
		"till_name":     result.TillName,
	})
}

// ValidateCode submits a user-entered transaction code for a reference
func (h *SubmissionHandler) ValidateCode(c *gin.Context) {
	reference := c.Param("reference")

	var req validateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transaction code is required"})
		return
	}

	outcome, err := h.orchestrator.ValidateCode(c.Request.Context(), reference, req.Code)
	if err != nil {
		if verr, ok := err.(*model.ValidationError); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	sub, _ := h.orchestrator.Get(reference)
	resp := gin.H{"outcome": outcome}
	if sub != nil {
		resp["state"] = sub.State
	}
	c.JSON(http.StatusOK, resp)
}

// Get returns the current state of a submission
func (h *SubmissionHandler) Get(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}
	c.JSON(http.StatusOK, sub)
}

// List returns all submissions for the current user
func (h *SubmissionHandler) List(c *gin.Context) {
	username := middleware.GetUsername(c)
	subs, err := h.orchestrator.List(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list submissions"})
		return
	}

	result := make([]gin.H, len(subs))
	for i, sub := range subs {
		result[i] = gin.H{
			"reference":     sub.Reference,
			"document_type": sub.DocumentType,
			"amount":        sub.Amount,
			"state":         sub.State,
			"last_error":    sub.LastError,
			"created_at":    sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at":    sub.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"submissions": result})
}

// Download triggers artifact delivery for a completed submission
func (h *SubmissionHandler) Download(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	outcome, err := h.orchestrator.Download(c.Request.Context(), sub.Reference)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if !outcome.Triggered {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Document could not be downloaded, please try again",
			"outcome": outcome,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// Cancel stops active polling for a submission
func (h *SubmissionHandler) Cancel(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	h.orchestrator.Cancel(sub.Reference)
	c.JSON(http.StatusOK, gin.H{"message": "Polling cancelled"})
}

// Resume restarts polling for a submission still in processing, e.g.
// after the UI was reopened
func (h *SubmissionHandler) Resume(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	if err := h.orchestrator.ResumePolling(sub.Reference); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Polling resumed"})
}

// ArchiveLink returns a presigned URL for the archived copy of a
// completed submission's artifact
func (h *SubmissionHandler) ArchiveLink(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	url, err := h.orchestrator.ArchiveURL(c.Request.Context(), sub.Reference)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if url == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No archived copy available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Remove deletes a terminal submission and its archived artifact
func (h *SubmissionHandler) Remove(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	if err := h.orchestrator.Remove(c.Request.Context(), sub.Reference); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Submission removed"})
}

// Retry resets a failed submission for another attempt
func (h *SubmissionHandler) Retry(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	retried, err := h.orchestrator.Retry(sub.Reference)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference": retried.Reference,
		"state":     retried.State,
	})
}

// ownedSubmission loads the submission in the path and enforces that it
// belongs to the current user. Writes the error response itself and
// returns nil when the caller should stop.
func (h *SubmissionHandler) ownedSubmission(c *gin.Context) *model.Submission {
	reference := c.Param("reference")
	username := middleware.GetUsername(c)

	sub, err := h.orchestrator.Get(reference)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load submission"})
		return nil
	}
	if sub == nil || sub.Username != username {
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
		return nil
	}
	return sub
}
