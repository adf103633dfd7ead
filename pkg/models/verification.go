package models

// VerificationOutcome result of checking a submitted verification code
type VerificationOutcome string

const (
	VerificationAccepted   VerificationOutcome = "accepted"
	VerificationExpired    VerificationOutcome = "expired"
	VerificationMismatched VerificationOutcome = "mismatched"
	VerificationNoPending  VerificationOutcome = "no_pending"
)
