package company

import (
	"errors"
	"time"
)

// ErrNotFound signals the requested company does not exist.
var ErrNotFound = errors.New("company: not found")

// Profile captures the subset of company data exposed via the public API
// layer. Verified reflects the business-verification check.
type Profile struct {
	ID           string
	Name         string
	Country      string
	RegistryNo   string
	Verified     bool
	ContactEmail string
	CreatedAt    time.Time
}
