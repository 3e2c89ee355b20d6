package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/internal/oracle"
	"github.com/canopytrace/canopytrace/pkg/geo"
)

// PlotHandler exposes plot accounts and the satellite verification intake.
type PlotHandler struct {
	ledger *ledger.Ledger
	pool   *oracle.Pool
	logger *zap.Logger
}

// NewPlotHandler creates a PlotHandler. pool may be nil to disable the
// verification intake route.
func NewPlotHandler(l *ledger.Ledger, pool *oracle.Pool, logger *zap.Logger) *PlotHandler {
	return &PlotHandler{ledger: l, pool: pool, logger: logger}
}

// Register mounts the plot routes on the given router group. auth guards the
// mutating routes.
func (h *PlotHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	plots := rg.Group("/plots")
	{
		plots.GET("", h.ListPlots)
		plots.GET("/:address", h.GetPlot)
		plots.POST("", auth, h.RegisterPlot)
		plots.POST("/:address/validate", auth, h.ValidatePlot)
		plots.POST("/:address/deactivate", auth, h.DeactivatePlot)
		plots.POST("/:address/verification-requests", auth, h.RequestVerification)
	}
}

type registerPlotRequest struct {
	Instruction ledger.RegisterPlot `json:"instruction" binding:"required"`
	Signature   ledger.Signature    `json:"signature"   binding:"required"`
}

// RegisterPlot handles POST /plots — applies a signed plot registration.
func (h *PlotHandler) RegisterPlot(c *gin.Context) {
	var req registerPlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plot, err := h.ledger.RegisterPlot(c.Request.Context(), req.Instruction, req.Signature)
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	recordInstruction("register_plot")
	c.JSON(http.StatusCreated, gin.H{"plot": plot})
}

type signatureOnlyRequest struct {
	Signature ledger.Signature `json:"signature" binding:"required"`
}

// ValidatePlot handles POST /plots/:address/validate — applies an
// authority-signed validation.
func (h *PlotHandler) ValidatePlot(c *gin.Context) {
	var req signatureOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := ledger.ValidatePlot{PlotAddress: ledger.Address(c.Param("address"))}
	plot, err := h.ledger.ValidatePlot(c.Request.Context(), in, req.Signature)
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	recordInstruction("validate_plot")
	c.JSON(http.StatusOK, gin.H{"plot": plot})
}

// DeactivatePlot handles POST /plots/:address/deactivate — applies an
// owner-signed retirement.
func (h *PlotHandler) DeactivatePlot(c *gin.Context) {
	var req signatureOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := ledger.DeactivatePlot{PlotAddress: ledger.Address(c.Param("address"))}
	plot, err := h.ledger.DeactivatePlot(c.Request.Context(), in, req.Signature)
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	recordInstruction("deactivate_plot")
	c.JSON(http.StatusOK, gin.H{"plot": plot})
}

// GetPlot handles GET /plots/:address.
func (h *PlotHandler) GetPlot(c *gin.Context) {
	plot, err := h.ledger.GetPlot(c.Request.Context(), ledger.Address(c.Param("address")))
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plot": plot})
}

// ListPlots handles GET /plots — returns paginated plots, newest first.
func (h *PlotHandler) ListPlots(c *gin.Context) {
	limit, offset := pagination(c)
	plots, err := h.ledger.ListPlots(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list plots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list plots"})
		return
	}
	if plots == nil {
		plots = []*ledger.Plot{}
	}
	c.JSON(http.StatusOK, gin.H{"plots": plots, "count": len(plots)})
}

type verificationRequestBody struct {
	Polygon [][2]float64 `json:"polygon" binding:"required"`
}

// RequestVerification handles POST /plots/:address/verification-requests —
// accepts a polygon for the plot and queues an asynchronous satellite
// verification attempt. The response is the attempt id; the attempt's ledger
// effect, if any, lands later.
func (h *PlotHandler) RequestVerification(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification oracle not configured"})
		return
	}

	var body verificationRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	polygon := make(geo.Polygon, len(body.Polygon))
	for i, v := range body.Polygon {
		polygon[i] = geo.Vertex(v)
	}
	if err := polygon.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	plot, err := h.ledger.GetPlot(ctx, ledger.Address(c.Param("address")))
	if err != nil {
		writeLedgerError(c, h.logger, err)
		return
	}

	attemptID, err := h.pool.Submit(ctx, oracle.Request{
		PlotID:  plot.PlotID,
		Owner:   plot.Owner,
		Polygon: polygon,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrQueueBusy) {
			c.Header("Retry-After", "5")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "verification queue is full"})
			return
		}
		h.logger.Error("submit verification attempt", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue verification"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"attempt_id": attemptID,
		"plot_id":    plot.PlotID,
		"status":     "queued",
	})
}

// pagination reads limit/offset query params with the node-wide bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
