package ledger

import (
	"time"

	"github.com/canopytrace/canopytrace/internal/identity"
)

// Identity aliases the signing identity type; ledger accounts store
// participants by their public identity.
type Identity = identity.Identity

// Field bounds, shared by all deployments.
const (
	MaxIDLen          = 32
	MaxLabelLen       = 64
	MaxCoordinateLen  = 128
	MaxDestinationLen = 64
	MaxEvidenceLen    = 64
)

// Plot is a registered land parcel. It is created by RegisterPlot and never
// deleted; retiring a plot flips IsActive instead.
type Plot struct {
	Address       Address       `json:"address"`
	PlotID        string        `json:"plot_id"`
	Owner         Identity      `json:"owner"`
	OwnerName     string        `json:"owner_name"`
	LocationLabel string        `json:"location_label"`
	// CoordinateHash is the content commitment of the boundary polygon.
	// The full polygon is held off ledger in the intake audit store.
	CoordinateHash string        `json:"coordinate_hash"`
	AreaHectares   float64       `json:"area_hectares"`
	Commodity      CommodityType `json:"commodity"`
	RegisteredAt   time.Time     `json:"registered_at"`

	// Compliance state, driven solely by verification events.
	DeforestationRisk DeforestationRisk `json:"deforestation_risk,omitempty"`
	ComplianceScore   uint8             `json:"compliance_score"`
	LastVerifiedAt    time.Time         `json:"last_verified_at,omitzero"`

	// ValidatorAuthority is designated at registration and immutable.
	ValidatorAuthority Identity `json:"validator_authority"`
	IsValidated        bool     `json:"is_validated"`
	IsActive           bool     `json:"is_active"`
}

// Verified reports whether the plot has at least one verification on record.
func (p *Plot) Verified() bool { return !p.LastVerifiedAt.IsZero() }

// Batch is one harvested lot traceable to exactly one plot.
type Batch struct {
	Address   Address       `json:"address"`
	BatchID   string        `json:"batch_id"`
	Owner     Identity      `json:"owner"`
	PlotRef   Address       `json:"plot_ref"`
	Commodity CommodityType `json:"commodity"`
	WeightKg  uint64        `json:"weight_kg"`
	HarvestedAt time.Time   `json:"harvested_at"`

	Status BatchStatus `json:"status"`
	// Compliance is a snapshot of the parent plot's standing at registration
	// time, not a live link.
	Compliance  ComplianceStatus `json:"compliance_status"`
	Destination string           `json:"destination"`
}

// VerificationRecord is an immutable attestation event. Records are append
// only: once created they are never mutated or deleted.
type VerificationRecord struct {
	Address         Address          `json:"address"`
	PlotRef         Address          `json:"plot_ref"`
	Verifier        Identity         `json:"verifier"`
	EvidenceRef     string           `json:"evidence_ref"`
	NoDeforestation bool             `json:"no_deforestation"`
	Kind            VerificationKind `json:"kind"`
	RecordedAt      time.Time        `json:"recorded_at"`
}

// complianceSnapshot derives the batch compliance status from the parent
// plot at registration time. High-risk plots never reach this point —
// RegisterBatch rejects them first.
func complianceSnapshot(p *Plot) ComplianceStatus {
	if p.Verified() && p.DeforestationRisk == RiskLow {
		return CompliancePassing
	}
	return CompliancePending
}
