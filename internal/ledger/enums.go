package ledger

import (
	"encoding/json"
	"fmt"
)

// CommodityType is the regulated commodity grown on a plot.
// The variant set is closed; deserialization rejects unknown values.
type CommodityType string

const (
	CommodityCocoa   CommodityType = "cocoa"
	CommodityCoffee  CommodityType = "coffee"
	CommodityPalmOil CommodityType = "palm_oil"
	CommoditySoy     CommodityType = "soy"
	CommodityCattle  CommodityType = "cattle"
	CommodityRubber  CommodityType = "rubber"
	CommodityTimber  CommodityType = "timber"
)

// ParseCommodity validates a commodity string.
func ParseCommodity(s string) (CommodityType, error) {
	switch c := CommodityType(s); c {
	case CommodityCocoa, CommodityCoffee, CommodityPalmOil, CommoditySoy,
		CommodityCattle, CommodityRubber, CommodityTimber:
		return c, nil
	}
	return "", fmt.Errorf("%w: commodity type %q", ErrUnknownVariant, s)
}

// UnmarshalJSON enforces the closed variant set at the decoding boundary.
func (c *CommodityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCommodity(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DeforestationRisk is a plot's current risk tier. The zero value means the
// plot has not been assessed yet; only verification events assign a tier.
type DeforestationRisk string

const (
	RiskLow    DeforestationRisk = "low"
	RiskMedium DeforestationRisk = "medium"
	RiskHigh   DeforestationRisk = "high"
)

// ParseRisk validates a risk tier string. The empty string is not a valid
// wire value — unassessed plots simply omit the field.
func ParseRisk(s string) (DeforestationRisk, error) {
	switch r := DeforestationRisk(s); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r, nil
	}
	return "", fmt.Errorf("%w: deforestation risk %q", ErrUnknownVariant, s)
}

// BatchStatus is a batch's position in the supply chain. The progression is
// ordered: Harvested → Processing → InTransit → Delivered. UpdateBatchStatus
// permits skipping ahead but never moving backwards.
type BatchStatus string

const (
	StatusHarvested  BatchStatus = "harvested"
	StatusProcessing BatchStatus = "processing"
	StatusInTransit  BatchStatus = "in_transit"
	StatusDelivered  BatchStatus = "delivered"
)

var statusRank = map[BatchStatus]int{
	StatusHarvested:  0,
	StatusProcessing: 1,
	StatusInTransit:  2,
	StatusDelivered:  3,
}

// ParseBatchStatus validates a batch status string.
func ParseBatchStatus(s string) (BatchStatus, error) {
	st := BatchStatus(s)
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("%w: batch status %q", ErrUnknownVariant, s)
	}
	return st, nil
}

// UnmarshalJSON enforces the closed variant set at the decoding boundary.
func (b *BatchStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBatchStatus(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ComplianceStatus is the compliance snapshot taken from the parent plot
// when a batch is registered. It is not a live link to the plot.
type ComplianceStatus string

const (
	CompliancePassing ComplianceStatus = "compliant"
	CompliancePending ComplianceStatus = "pending_review"
	ComplianceFailed  ComplianceStatus = "non_compliant"
)

// VerificationKind identifies the evidence source behind a verification.
type VerificationKind string

const (
	KindSatellite VerificationKind = "satellite"
	KindAudit     VerificationKind = "audit"
	KindManual    VerificationKind = "manual"
)

// ParseVerificationKind validates a verification kind string.
func ParseVerificationKind(s string) (VerificationKind, error) {
	switch k := VerificationKind(s); k {
	case KindSatellite, KindAudit, KindManual:
		return k, nil
	}
	return "", fmt.Errorf("%w: verification kind %q", ErrUnknownVariant, s)
}
