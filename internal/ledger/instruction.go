package ledger

import (
	"strconv"
	"strings"
	"time"
)

// Signature authenticates an instruction. Sig is an Ed25519 signature by
// Signer over the instruction's canonical signing bytes.
type Signature struct {
	Signer Identity `json:"signer"`
	Sig    []byte   `json:"sig"`
}

// signable is implemented by every instruction payload.
type signable interface {
	// SigningBytes returns the canonical byte encoding the signature covers.
	SigningBytes() []byte
}

// canonical joins instruction fields into an unambiguous signing string.
func canonical(op string, fields ...string) []byte {
	return []byte(op + "\x1f" + strings.Join(fields, "\x1f"))
}

// verify checks sig against the payload's canonical bytes.
// Any failure — missing signer, bad key, wrong signature — is ErrUnauthorized;
// callers learn nothing about which part failed.
func verify(p signable, sig Signature) error {
	if sig.Signer.Zero() || !sig.Signer.Verify(p.SigningBytes(), sig.Sig) {
		return ErrUnauthorized
	}
	return nil
}

// RegisterPlot creates a plot account at its derived address.
// The signer becomes the plot owner.
type RegisterPlot struct {
	PlotID         string        `json:"plot_id"`
	OwnerName      string        `json:"owner_name"`
	LocationLabel  string        `json:"location_label"`
	CoordinateHash string        `json:"coordinate_hash"`
	AreaHectares   float64       `json:"area_hectares"`
	Commodity      CommodityType `json:"commodity"`
	// ValidatorAuthority is the identity allowed to validate and verify this
	// plot. Designated once, immutable afterwards.
	ValidatorAuthority Identity  `json:"validator_authority"`
	RegisteredAt       time.Time `json:"registered_at"`
}

func (in RegisterPlot) SigningBytes() []byte {
	return canonical("register_plot",
		in.PlotID, in.OwnerName, in.LocationLabel, in.CoordinateHash,
		strconv.FormatFloat(in.AreaHectares, 'f', -1, 64),
		string(in.Commodity), string(in.ValidatorAuthority),
		strconv.FormatInt(in.RegisteredAt.Unix(), 10),
	)
}

// ValidatePlot marks a plot validated. Only the plot's designated validator
// authority may sign it. Re-validating an already-validated plot is a no-op,
// so the oracle can safely retry a commit whose acknowledgement was lost.
type ValidatePlot struct {
	PlotAddress Address `json:"plot_address"`
}

func (in ValidatePlot) SigningBytes() []byte {
	return canonical("validate_plot", string(in.PlotAddress))
}

// DeactivatePlot retires a plot. Owner-signed flag flip; the account and its
// history remain on ledger.
type DeactivatePlot struct {
	PlotAddress Address `json:"plot_address"`
}

func (in DeactivatePlot) SigningBytes() []byte {
	return canonical("deactivate_plot", string(in.PlotAddress))
}

// RegisterBatch creates a batch bound to an existing plot owned by the
// signer. The parent plot address is derived from (PlotID, signer), so a
// batch can never be attached to someone else's plot.
type RegisterBatch struct {
	BatchID     string    `json:"batch_id"`
	PlotID      string    `json:"plot_id"`
	WeightKg    uint64    `json:"weight_kg"`
	HarvestedAt time.Time `json:"harvested_at"`
}

func (in RegisterBatch) SigningBytes() []byte {
	return canonical("register_batch",
		in.BatchID, in.PlotID,
		strconv.FormatUint(in.WeightKg, 10),
		strconv.FormatInt(in.HarvestedAt.Unix(), 10),
	)
}

// UpdateBatchStatus advances a batch through the supply chain and sets its
// destination. Owner-signed; the progression is forward-only.
type UpdateBatchStatus struct {
	BatchAddress Address     `json:"batch_address"`
	NewStatus    BatchStatus `json:"new_status"`
	Destination  string      `json:"destination"`
}

func (in UpdateBatchStatus) SigningBytes() []byte {
	return canonical("update_batch_status",
		string(in.BatchAddress), string(in.NewStatus), in.Destination)
}

// RecordVerification creates an immutable verification record and, in the
// same atomic step, updates the referenced plot's risk tier, compliance
// score, and last-verified timestamp.
type RecordVerification struct {
	PlotAddress     Address          `json:"plot_address"`
	EvidenceRef     string           `json:"evidence_ref"`
	NoDeforestation bool             `json:"no_deforestation"`
	Kind            VerificationKind `json:"kind"`
	RecordedAt      time.Time        `json:"recorded_at"`
}

func (in RecordVerification) SigningBytes() []byte {
	return canonical("record_verification",
		string(in.PlotAddress), in.EvidenceRef,
		strconv.FormatBool(in.NoDeforestation),
		string(in.Kind),
		strconv.FormatInt(in.RecordedAt.Unix(), 10),
	)
}

// Sign produces a Signature for an instruction payload using kp.
func Sign(p signable, kp interface {
	Sign(msg []byte) []byte
	Identity() Identity
}) Signature {
	return Signature{Signer: kp.Identity(), Sig: kp.Sign(p.SigningBytes())}
}
