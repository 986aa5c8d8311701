package domain

// Verdict is the risk decision recorded on a token.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// String returns the string representation of Verdict.
func (v Verdict) String() string {
	return string(v)
}

// IsValid checks if the verdict is a valid value.
func (v Verdict) IsValid() bool {
	return v == VerdictPending || v == VerdictApproved || v == VerdictRejected
}

// IsFinal reports whether the verdict was produced by an assessment.
func (v Verdict) IsFinal() bool {
	return v == VerdictApproved || v == VerdictRejected
}

// Severity is the level attached to a risk factor.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityWarn   Severity = "warn"
	SeverityDanger Severity = "danger"
)

// ParseSeverity maps an upstream level string to a Severity.
// Unknown levels are treated as warnings.
func ParseSeverity(level string) Severity {
	switch Severity(level) {
	case SeverityInfo, SeverityWarn, SeverityDanger:
		return Severity(level)
	case "":
		return SeverityInfo
	default:
		return SeverityWarn
	}
}
