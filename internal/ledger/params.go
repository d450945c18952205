package ledger

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Params are the tunable limits of a ledger instance.
type Params struct {
	// Version is the tag recorded at creation.
	Version            string
	MaxMessageLength   int
	MaxReferenceLength int
	MaxEvidenceLength  int
	// RateLimitSeconds is the minimum gap between two accepted
	// submissions from the same submitter.
	RateLimitSeconds uint64
}

// DefaultParams returns the production limits.
func DefaultParams() Params {
	return Params{
		Version:            "1.0.0",
		MaxMessageLength:   1000,
		MaxReferenceLength: 50,
		MaxEvidenceLength:  100,
		RateLimitSeconds:   60,
	}
}

// Validate rejects parameter sets that would make every submission fail.
func (p Params) Validate() error {
	if _, err := semver.NewVersion(p.Version); err != nil {
		return fmt.Errorf("version %q: %w", p.Version, err)
	}
	if p.MaxMessageLength <= 0 {
		return fmt.Errorf("max message length must be positive, got %d", p.MaxMessageLength)
	}
	if p.MaxReferenceLength < 0 || p.MaxEvidenceLength < 0 {
		return fmt.Errorf("optional field limits must not be negative")
	}
	return nil
}
