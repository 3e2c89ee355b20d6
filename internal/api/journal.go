package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
)

// JournalHandler exposes read-only endpoints for the tamper-evident journal.
type JournalHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewJournalHandler creates a JournalHandler.
func NewJournalHandler(l *ledger.Ledger, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{ledger: l, logger: logger}
}

// Register mounts the journal routes on the given router group.
func (h *JournalHandler) Register(rg *gin.RouterGroup) {
	j := rg.Group("/journal")
	{
		j.GET("", h.Overview)
		j.GET("/verify", h.Verify)
		j.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /journal — returns the chain length and current root hash.
func (h *JournalHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.JournalLen(ctx)
	if err != nil {
		h.logger.Error("journal Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal"})
		return
	}

	root, err := h.ledger.JournalRoot(ctx)
	if err != nil {
		h.logger.Error("journal Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /journal/verify — walks the full chain and reports integrity.
func (h *JournalHandler) Verify(c *gin.Context) {
	if err := h.ledger.JournalVerify(c.Request.Context()); err != nil {
		h.logger.Warn("journal integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /journal/entries/:idx — returns a single journal event.
func (h *JournalHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	event, err := h.ledger.JournalGet(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	c.JSON(http.StatusOK, event)
}
