package ledger

import "errors"

// Instruction rejections. Handlers map these onto HTTP statuses; none of
// them is retried automatically.
var (
	// ErrIDTooLong — a plot or batch id exceeds MaxIDLen.
	ErrIDTooLong = errors.New("id too long")

	// ErrLabelTooLong — owner name or location label exceeds MaxLabelLen.
	ErrLabelTooLong = errors.New("label too long")

	// ErrInvalidArea — plot area is not strictly positive.
	ErrInvalidArea = errors.New("area must be greater than zero")

	// ErrInvalidWeight — batch weight is not strictly positive.
	ErrInvalidWeight = errors.New("weight must be greater than zero")

	// ErrInvalidCoordinates — the coordinate commitment is missing or oversized.
	ErrInvalidCoordinates = errors.New("invalid coordinate commitment")

	// ErrEvidenceTooLong — a verification evidence reference exceeds MaxEvidenceLen.
	ErrEvidenceTooLong = errors.New("evidence reference too long")

	// ErrDestinationTooLong — a batch destination exceeds MaxDestinationLen.
	ErrDestinationTooLong = errors.New("destination too long")

	// ErrMissingAuthority — plot registration did not designate a validator authority.
	ErrMissingAuthority = errors.New("validator authority not designated")

	// ErrDuplicateAccount — an account already exists at the derived address.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrNotFound — no account exists at the given address.
	ErrNotFound = errors.New("account not found")

	// ErrUnauthorized — the instruction signature is invalid or the signer
	// does not hold the role the instruction requires.
	ErrUnauthorized = errors.New("signer not authorized")

	// ErrNonCompliantPlot — batch registration was refused because the parent
	// plot is deactivated or carries a high deforestation risk.
	ErrNonCompliantPlot = errors.New("plot is not compliant")

	// ErrStatusRegression — a batch status update attempted to move backwards
	// through the supply-chain progression.
	ErrStatusRegression = errors.New("batch status cannot move backwards")

	// ErrUnknownVariant — an enum field carried a value outside its closed set.
	ErrUnknownVariant = errors.New("unknown variant")
)
