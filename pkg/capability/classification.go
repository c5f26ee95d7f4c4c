package capability

// Classification tells the dispatcher how an operation is carried out
// against the backing connections of a logical connection.
type Classification int

const (
	// Unclassified is the zero value. No operation may keep it after init.
	Unclassified Classification = iota
	// Delegate forwards the call to the first backing connection.
	Delegate
	// Aggregate forwards the call to every backing connection, fail-fast.
	Aggregate
	// RejectStandard fails with the "optional feature absent" error.
	RejectStandard
	// RejectPolicy fails with the "disallowed for correctness" error.
	RejectPolicy
	// NoopAccept succeeds without touching any backing connection.
	NoopAccept
)

// String returns the classification name used in logs, metrics and the
// support matrix.
func (c Classification) String() string {
	switch c {
	case Delegate:
		return "DELEGATE"
	case Aggregate:
		return "AGGREGATE"
	case RejectStandard:
		return "REJECT_STANDARD"
	case RejectPolicy:
		return "REJECT_POLICY"
	case NoopAccept:
		return "NOOP_ACCEPT"
	default:
		return "UNCLASSIFIED"
	}
}

// TouchesBackend reports whether operations of this classification perform
// backing-connection I/O.
func (c Classification) TouchesBackend() bool {
	return c == Delegate || c == Aggregate
}

// IsRejection reports whether operations of this classification always fail.
func (c Classification) IsRejection() bool {
	return c == RejectStandard || c == RejectPolicy
}
