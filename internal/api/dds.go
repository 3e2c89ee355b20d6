package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/dds"
	"github.com/canopytrace/canopytrace/internal/ledger"
)

// DDSHandler exposes due-diligence report generation.
type DDSHandler struct {
	aggregator *dds.Aggregator
	logger     *zap.Logger
}

// NewDDSHandler creates a DDSHandler.
func NewDDSHandler(agg *dds.Aggregator, logger *zap.Logger) *DDSHandler {
	return &DDSHandler{aggregator: agg, logger: logger}
}

// Register mounts the report route on the given router group.
func (h *DDSHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/dds/report", h.GenerateReport)
}

// GenerateReport handles GET /dds/report?batch=...&plot=... — joins the batch
// and plot accounts into a due-diligence statement.
func (h *DDSHandler) GenerateReport(c *gin.Context) {
	batchAddr := c.Query("batch")
	plotAddr := c.Query("plot")
	if batchAddr == "" || plotAddr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch and plot are required"})
		return
	}

	report, err := h.aggregator.GenerateReport(c.Request.Context(),
		ledger.Address(batchAddr), ledger.Address(plotAddr))
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}
