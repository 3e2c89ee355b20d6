package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Account namespaces. Each entity type derives its address under its own
// namespace so that a plot and a batch sharing an id can never collide.
const (
	nsPlot         = "plot"
	nsBatch        = "batch"
	nsVerification = "verification"
)

// Address is the deterministic account address of a ledger entity: the hex
// SHA-256 of the entity's namespace and identifying inputs. There is no
// registry of addresses — the same inputs always land on the same account.
type Address string

// Zero reports whether the address is unset.
func (a Address) Zero() bool { return a == "" }

// Derive computes an address from a namespace and its identifying parts.
// It is pure and deterministic; derivation cannot fail for well-formed
// inputs. Oversized ids are rejected by the registration instructions,
// not here.
func Derive(namespace string, parts ...string) Address {
	h := sha256.New()
	fmt.Fprintf(h, "%s", namespace)
	for _, p := range parts {
		// 0x1f separates fields so ("ab","c") and ("a","bc") differ.
		fmt.Fprintf(h, "\x1f%s", p)
	}
	return Address(hex.EncodeToString(h.Sum(nil)))
}

// PlotAddress derives the account address for a plot.
func PlotAddress(plotID string, owner Identity) Address {
	return Derive(nsPlot, plotID, string(owner))
}

// BatchAddress derives the account address for a harvest batch.
func BatchAddress(batchID string, owner Identity) Address {
	return Derive(nsBatch, batchID, string(owner))
}

// VerificationAddress derives the account address for a verification record.
// The timestamp is part of the derivation so a plot can accumulate multiple
// records per verifier over time, while an exact (plot, verifier, timestamp)
// tuple maps to exactly one account.
func VerificationAddress(plot Address, verifier Identity, unix int64) Address {
	return Derive(nsVerification, string(plot), string(verifier), strconv.FormatInt(unix, 10))
}
