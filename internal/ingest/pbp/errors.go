package pbp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the provider did not answer in time.
	ErrTimeout = errors.New("provider request timed out")

	// ErrEventOrder means the play-by-play events could not be put in a consistent order.
	ErrEventOrder = errors.New("play-by-play events out of order")

	// ErrDuplicatePossession means the same team was credited with back-to-back possessions.
	ErrDuplicatePossession = errors.New("back-to-back possessions by the same team")

	// ErrInvalidStarters means a period's starting lineup could not be resolved.
	ErrInvalidStarters = errors.New("unable to resolve starting lineup")
)

// Provider error type names as sent on the wire.
const (
	TypeEventOrder          = "EventOrderError"
	TypeDuplicatePossession = "TeamHasBackToBackPossessionsException"
	TypeInvalidStarters     = "InvalidNumberOfStartersException"
	TypeTimeout             = "Timeout"
)

var kindsByType = map[string]error{
	TypeEventOrder:          ErrEventOrder,
	TypeDuplicatePossession: ErrDuplicatePossession,
	TypeInvalidStarters:     ErrInvalidStarters,
	TypeTimeout:             ErrTimeout,
}

// ProviderError carries a failure reported by the provider for a specific resource.
type ProviderError struct {
	Kind    error
	Type    string
	GameID  string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.GameID != "" {
		return fmt.Sprintf("game %s: %s: %s", e.GameID, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// IsMalformed reports whether err is one of the known malformed play-by-play kinds.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrEventOrder) ||
		errors.Is(err, ErrDuplicatePossession) ||
		errors.Is(err, ErrInvalidStarters)
}

// IsTimeout reports whether err should be retried as a transient timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
