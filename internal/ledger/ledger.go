// Package ledger implements the compliance ledger: the plot, batch, and
// verification account model, the signed instruction state machine that
// mutates it, and the tamper-evident journal every committed instruction
// appends to.
//
// Every mutating instruction is atomic — all of its account updates and its
// journal event commit together or not at all. The store serialises writers,
// so handlers never see a half-applied peer instruction. Authorization is
// checked twice: the Ed25519 signature must verify against the embedded
// signer, and the signer must hold the role the instruction requires
// (account owner or designated validator authority).
package ledger

import (
	"context"

	"go.uber.org/zap"
)

// Ledger applies signed instructions to a Store.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// New creates a Ledger over the given store.
func New(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// RegisterPlot applies a plot registration. The signer becomes the owner.
func (l *Ledger) RegisterPlot(ctx context.Context, in RegisterPlot, sig Signature) (*Plot, error) {
	if err := verify(in, sig); err != nil {
		return nil, err
	}
	if len(in.PlotID) == 0 || len(in.PlotID) > MaxIDLen {
		return nil, ErrIDTooLong
	}
	if len(in.OwnerName) > MaxLabelLen || len(in.LocationLabel) > MaxLabelLen {
		return nil, ErrLabelTooLong
	}
	if in.AreaHectares <= 0 {
		return nil, ErrInvalidArea
	}
	if len(in.CoordinateHash) == 0 || len(in.CoordinateHash) > MaxCoordinateLen {
		return nil, ErrInvalidCoordinates
	}
	if _, err := ParseCommodity(string(in.Commodity)); err != nil {
		return nil, err
	}
	if in.ValidatorAuthority.Zero() {
		return nil, ErrMissingAuthority
	}

	plot := &Plot{
		Address:            PlotAddress(in.PlotID, sig.Signer),
		PlotID:             in.PlotID,
		Owner:              sig.Signer,
		OwnerName:          in.OwnerName,
		LocationLabel:      in.LocationLabel,
		CoordinateHash:     in.CoordinateHash,
		AreaHectares:       in.AreaHectares,
		Commodity:          in.Commodity,
		RegisteredAt:       in.RegisteredAt.UTC(),
		ComplianceScore:    0, // neutral until a verification event lands
		ValidatorAuthority: in.ValidatorAuthority,
		IsValidated:        false,
		IsActive:           true,
	}

	err := l.store.Update(ctx, func(tx Txn) error {
		if _, err := tx.GetPlot(plot.Address); err == nil {
			return ErrDuplicateAccount
		} else if err != ErrNotFound {
			return err
		}
		if err := tx.PutPlot(plot); err != nil {
			return err
		}
		_, err := tx.AppendEvent(ActionPlotRegistered, plot.Address, sig.Signer, plot)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("plot registered",
		zap.String("plot_id", plot.PlotID),
		zap.String("address", string(plot.Address)),
		zap.String("commodity", string(plot.Commodity)),
	)
	return plot, nil
}

// ValidatePlot transitions a plot's IsValidated flag to true. Only the
// plot's validator authority may sign it; validating an already-validated
// plot succeeds without effect.
func (l *Ledger) ValidatePlot(ctx context.Context, in ValidatePlot, sig Signature) (*Plot, error) {
	if err := verify(in, sig); err != nil {
		return nil, err
	}

	var plot *Plot
	err := l.store.Update(ctx, func(tx Txn) error {
		var err error
		plot, err = tx.GetPlot(in.PlotAddress)
		if err != nil {
			return err
		}
		if sig.Signer != plot.ValidatorAuthority {
			return ErrUnauthorized
		}
		if plot.IsValidated {
			return nil // idempotent retry
		}
		plot.IsValidated = true
		if err := tx.PutPlot(plot); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ActionPlotValidated, plot.Address, sig.Signer, plot)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("plot validated",
		zap.String("plot_id", plot.PlotID),
		zap.String("authority", string(sig.Signer)),
	)
	return plot, nil
}

// DeactivatePlot retires a plot. Owner-signed; idempotent.
func (l *Ledger) DeactivatePlot(ctx context.Context, in DeactivatePlot, sig Signature) (*Plot, error) {
	if err := verify(in, sig); err != nil {
		return nil, err
	}

	var plot *Plot
	err := l.store.Update(ctx, func(tx Txn) error {
		var err error
		plot, err = tx.GetPlot(in.PlotAddress)
		if err != nil {
			return err
		}
		if sig.Signer != plot.Owner {
			return ErrUnauthorized
		}
		if !plot.IsActive {
			return nil
		}
		plot.IsActive = false
		if err := tx.PutPlot(plot); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ActionPlotDeactivated, plot.Address, sig.Signer, plot)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("plot deactivated", zap.String("plot_id", plot.PlotID))
	return plot, nil
}

// RegisterBatch creates a batch bound to an existing plot owned by the
// signer. Plots that are deactivated or carry a high risk tier cannot ship
// batches. The batch's compliance status is a snapshot of the plot's
// standing at this instant.
func (l *Ledger) RegisterBatch(ctx context.Context, in RegisterBatch, sig Signature) (*Batch, error) {
	if err := verify(in, sig); err != nil {
		return nil, err
	}
	if len(in.BatchID) == 0 || len(in.BatchID) > MaxIDLen {
		return nil, ErrIDTooLong
	}
	if in.WeightKg == 0 {
		return nil, ErrInvalidWeight
	}

	plotAddr := PlotAddress(in.PlotID, sig.Signer)
	batch := &Batch{
		Address:     BatchAddress(in.BatchID, sig.Signer),
		BatchID:     in.BatchID,
		Owner:       sig.Signer,
		PlotRef:     plotAddr,
		WeightKg:    in.WeightKg,
		HarvestedAt: in.HarvestedAt.UTC(),
		Status:      StatusHarvested,
	}

	err := l.store.Update(ctx, func(tx Txn) error {
		plot, err := tx.GetPlot(plotAddr)
		if err != nil {
			return err
		}
		if !plot.IsActive || plot.DeforestationRisk == RiskHigh {
			return ErrNonCompliantPlot
		}
		if _, err := tx.GetBatch(batch.Address); err == nil {
			return ErrDuplicateAccount
		} else if err != ErrNotFound {
			return err
		}

		batch.Commodity = plot.Commodity
		batch.Compliance = complianceSnapshot(plot)

		if err := tx.PutBatch(batch); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ActionBatchRegistered, batch.Address, sig.Signer, batch)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("batch registered",
		zap.String("batch_id", batch.BatchID),
		zap.String("plot_ref", string(batch.PlotRef)),
		zap.Uint64("weight_kg", batch.WeightKg),
	)
	return batch, nil
}

// UpdateBatchStatus advances a batch through the supply chain. The
// progression is forward-only: skipping ahead is allowed, regression is not.
func (l *Ledger) UpdateBatchStatus(ctx context.Context, in UpdateBatchStatus, sig Signature) (*Batch, error) {
	if err := verify(in, sig); err != nil {
		return nil, err
	}
	if len(in.Destination) > MaxDestinationLen {
		return nil, ErrDestinationTooLong
	}
	if _, err := ParseBatchStatus(string(in.NewStatus)); err != nil {
		return nil, err
	}

	var batch *Batch
	err := l.store.Update(ctx, func(tx Txn) error {
		var err error
		batch, err = tx.GetBatch(in.BatchAddress)
		if err != nil {
			return err
		}
		if sig.Signer != batch.Owner {
			return ErrUnauthorized
		}
		if statusRank[in.NewStatus] < statusRank[batch.Status] {
			return ErrStatusRegression
		}
		batch.Status = in.NewStatus
		batch.Destination = in.Destination
		if err := tx.PutBatch(batch); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ActionBatchStatusUpdated, batch.Address, sig.Signer, batch)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("batch status updated",
		zap.String("batch_id", batch.BatchID),
		zap.String("status", string(batch.Status)),
	)
	return batch, nil
}

// RecordVerification creates an immutable verification record and updates
// the referenced plot's compliance fields in the same atomic commit:
// a clean finding sets risk Low / score 100, a deforestation finding sets
// risk High / score 0. Only the plot's validator authority may sign it.
// Concurrent records from the same authority at distinct timestamps are all
// kept; the plot fields reflect whichever committed last.
func (l *Ledger) RecordVerification(ctx context.Context, in RecordVerification, sig Signature) (*VerificationRecord, error) {
	if err := verify(in, sig); err != nil {
		return nil, err
	}
	if len(in.EvidenceRef) == 0 || len(in.EvidenceRef) > MaxEvidenceLen {
		return nil, ErrEvidenceTooLong
	}
	if _, err := ParseVerificationKind(string(in.Kind)); err != nil {
		return nil, err
	}

	recordedAt := in.RecordedAt.UTC()
	record := &VerificationRecord{
		Address:         VerificationAddress(in.PlotAddress, sig.Signer, recordedAt.Unix()),
		PlotRef:         in.PlotAddress,
		Verifier:        sig.Signer,
		EvidenceRef:     in.EvidenceRef,
		NoDeforestation: in.NoDeforestation,
		Kind:            in.Kind,
		RecordedAt:      recordedAt,
	}

	err := l.store.Update(ctx, func(tx Txn) error {
		plot, err := tx.GetPlot(in.PlotAddress)
		if err != nil {
			return err
		}
		if sig.Signer != plot.ValidatorAuthority {
			return ErrUnauthorized
		}
		if _, err := tx.GetVerification(record.Address); err == nil {
			return ErrDuplicateAccount
		} else if err != ErrNotFound {
			return err
		}

		if record.NoDeforestation {
			plot.DeforestationRisk = RiskLow
			plot.ComplianceScore = 100
		} else {
			plot.DeforestationRisk = RiskHigh
			plot.ComplianceScore = 0
		}
		plot.LastVerifiedAt = recordedAt

		if err := tx.PutVerification(record); err != nil {
			return err
		}
		if err := tx.PutPlot(plot); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ActionVerificationRecorded, record.Address, sig.Signer, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !record.NoDeforestation {
		l.logger.Warn("deforestation finding recorded",
			zap.String("plot_ref", string(record.PlotRef)),
			zap.String("evidence", record.EvidenceRef),
		)
	} else {
		l.logger.Info("verification recorded",
			zap.String("plot_ref", string(record.PlotRef)),
			zap.String("kind", string(record.Kind)),
		)
	}
	return record, nil
}

// GetPlot returns the plot at addr.
func (l *Ledger) GetPlot(ctx context.Context, addr Address) (*Plot, error) {
	return l.store.GetPlot(ctx, addr)
}

// GetBatch returns the batch at addr.
func (l *Ledger) GetBatch(ctx context.Context, addr Address) (*Batch, error) {
	return l.store.GetBatch(ctx, addr)
}

// GetVerification returns the verification record at addr.
func (l *Ledger) GetVerification(ctx context.Context, addr Address) (*VerificationRecord, error) {
	return l.store.GetVerification(ctx, addr)
}

// ListPlots returns registered plots, newest first.
func (l *Ledger) ListPlots(ctx context.Context, limit, offset int) ([]*Plot, error) {
	return l.store.ListPlots(ctx, limit, offset)
}

// ListBatches returns registered batches, newest first.
func (l *Ledger) ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error) {
	return l.store.ListBatches(ctx, limit, offset)
}

// Journal exposes the journal read path.
func (l *Ledger) JournalLen(ctx context.Context) (int, error) { return l.store.JournalLen(ctx) }
func (l *Ledger) JournalRoot(ctx context.Context) (string, error) {
	return l.store.JournalRoot(ctx)
}
func (l *Ledger) JournalGet(ctx context.Context, i int) (*Event, error) {
	return l.store.JournalGet(ctx, i)
}
func (l *Ledger) JournalVerify(ctx context.Context) error { return l.store.JournalVerify(ctx) }
