package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
)

// VerificationHandler exposes verification record accounts for external
// verifiers (audits, manual inspections) that bypass the satellite pipeline.
type VerificationHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(l *ledger.Ledger, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{ledger: l, logger: logger}
}

// Register mounts the verification routes on the given router group.
func (h *VerificationHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	v := rg.Group("/verifications")
	{
		v.GET("/:address", h.GetVerification)
		v.POST("", auth, h.RecordVerification)
	}
}

type recordVerificationRequest struct {
	Instruction ledger.RecordVerification `json:"instruction" binding:"required"`
	Signature   ledger.Signature          `json:"signature"   binding:"required"`
}

// RecordVerification handles POST /verifications — applies an
// authority-signed verification record.
func (h *VerificationHandler) RecordVerification(c *gin.Context) {
	var req recordVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := h.ledger.RecordVerification(c.Request.Context(), req.Instruction, req.Signature)
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	recordInstruction("record_verification")
	c.JSON(http.StatusCreated, gin.H{"verification": record})
}

// GetVerification handles GET /verifications/:address.
func (h *VerificationHandler) GetVerification(c *gin.Context) {
	record, err := h.ledger.GetVerification(c.Request.Context(), ledger.Address(c.Param("address")))
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": record})
}
