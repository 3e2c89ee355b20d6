package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
)

// writeLedgerError maps a ledger error onto an HTTP response. Unrecognised
// errors become a logged 500 with a generic body.
func writeLedgerError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, ledger.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "instruction signature rejected"})
	case errors.Is(err, ledger.ErrDuplicateAccount):
		c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
	case errors.Is(err, ledger.ErrNonCompliantPlot):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "plot is not eligible for new batches"})
	case errors.Is(err, ledger.ErrStatusRegression):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "batch status cannot move backwards"})
	case errors.Is(err, ledger.ErrIDTooLong),
		errors.Is(err, ledger.ErrLabelTooLong),
		errors.Is(err, ledger.ErrInvalidArea),
		errors.Is(err, ledger.ErrInvalidWeight),
		errors.Is(err, ledger.ErrInvalidCoordinates),
		errors.Is(err, ledger.ErrEvidenceTooLong),
		errors.Is(err, ledger.ErrDestinationTooLong),
		errors.Is(err, ledger.ErrMissingAuthority),
		errors.Is(err, ledger.ErrUnknownVariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("ledger instruction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "instruction failed"})
	}
}
