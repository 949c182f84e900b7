package handler

import (
	"encoding/json"
	"net/http"

	"github.com/MwailaCoding/prowrite-delivery/service"
	"github.com/gin-gonic/gin"
)

type CallbackHandler struct {
	gateway      *service.GatewayService
	orchestrator *service.Orchestrator
}

func NewCallbackHandler(gateway *service.GatewayService, orch *service.Orchestrator) *CallbackHandler {
	return &CallbackHandler{
		gateway:      gateway,
		orchestrator: orch,
	}
}

type CallbackRequest struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

type CallbackContent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"` // confirmed, failed
	Reason    string `json:"reason,omitempty"`
}

// HandleCallback receives a payment confirmation from the provider.
// This is the webhook confirmation path; it enters processing on the
// fast budget without a user-entered code.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var content CallbackContent
	if err := json.Unmarshal([]byte(req.Content), &content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content format"})
		return
	}

	if content.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing reference"})
		return
	}

	if !h.gateway.VerifyCallback(req.Checksum, req.Content, content.Reference) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Checksum verification failed"})
		return
	}

	switch content.Status {
	case "confirmed":
		if err := h.orchestrator.ConfirmFromCallback(content.Reference); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	case "failed":
		reason := content.Reason
		if reason == "" {
			reason = "payment failed"
		}
		if err := h.orchestrator.FailFromCallback(content.Reference, reason); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown callback status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Callback received"})
}
