package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Error kinds shared by the catalog, ledger and stores. Callers match them
// with errors.Is; concrete errors wrap one of these with detail.
var (
	ErrValidation          = errors.New("validation failed")
	ErrSelfTrade           = errors.New("trading your own instrument is forbidden")
	ErrInsufficientBalance = errors.New("insufficient demo balance")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrStorageUnavailable  = errors.New("storage unavailable")

	// ErrSnapshotConflict is returned by a snapshot store when the stored
	// revision moved since the snapshot was loaded.
	ErrSnapshotConflict = errors.New("catalog snapshot revision conflict")

	// ErrInsufficientHoldings is returned by caller-side checks when a release
	// exceeds the quantity the user holds.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrPriceChanged is returned when a caller's quoted unit price no longer
	// matches the catalog price.
	ErrPriceChanged = errors.New("quoted price no longer matches the catalog price")
)

// symbolRegex matches upper-case symbols such as MESSI10 or K_MBAPPE.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,15}$`)

// NormalizeSymbol upper-cases and validates an instrument symbol.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: invalid symbol %q (expected 2-16 chars, A-Z, 0-9, _)", ErrValidation, raw)
	}
	return s, nil
}
