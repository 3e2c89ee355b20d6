package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
)

// BatchHandler exposes harvest batch accounts.
type BatchHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(l *ledger.Ledger, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{ledger: l, logger: logger}
}

// Register mounts the batch routes on the given router group.
func (h *BatchHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	batches := rg.Group("/batches")
	{
		batches.GET("", h.ListBatches)
		batches.GET("/:address", h.GetBatch)
		batches.POST("", auth, h.RegisterBatch)
		batches.POST("/:address/status", auth, h.UpdateStatus)
	}
}

type registerBatchRequest struct {
	Instruction ledger.RegisterBatch `json:"instruction" binding:"required"`
	Signature   ledger.Signature     `json:"signature"   binding:"required"`
}

// RegisterBatch handles POST /batches — applies a signed batch registration.
func (h *BatchHandler) RegisterBatch(c *gin.Context) {
	var req registerBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	batch, err := h.ledger.RegisterBatch(c.Request.Context(), req.Instruction, req.Signature)
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	recordInstruction("register_batch")
	c.JSON(http.StatusCreated, gin.H{"batch": batch})
}

type updateStatusRequest struct {
	NewStatus   ledger.BatchStatus `json:"new_status" binding:"required"`
	Destination string             `json:"destination"`
	Signature   ledger.Signature   `json:"signature" binding:"required"`
}

// UpdateStatus handles POST /batches/:address/status — advances a batch
// through the supply chain.
func (h *BatchHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := ledger.UpdateBatchStatus{
		BatchAddress: ledger.Address(c.Param("address")),
		NewStatus:    req.NewStatus,
		Destination:  req.Destination,
	}
	batch, err := h.ledger.UpdateBatchStatus(c.Request.Context(), in, req.Signature)
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	recordInstruction("update_batch_status")
	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

// GetBatch handles GET /batches/:address.
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batch, err := h.ledger.GetBatch(c.Request.Context(), ledger.Address(c.Param("address")))
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

// ListBatches handles GET /batches — returns paginated batches, newest first.
func (h *BatchHandler) ListBatches(c *gin.Context) {
	limit, offset := pagination(c)
	batches, err := h.ledger.ListBatches(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list batches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list batches"})
		return
	}
	if batches == nil {
		batches = []*ledger.Batch{}
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}
