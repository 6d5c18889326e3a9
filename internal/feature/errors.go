package feature

import "github.com/rotisserie/eris"

// Sentinel errors shared by every pipeline stage. Wrap them with
// eris.Wrapf to add context and test for them with eris.Is.
var (
	// ErrInvalidCRS reports a missing or unconvertible coordinate reference system.
	ErrInvalidCRS = eris.New("invalid crs")
	// ErrRowNotFound reports a referenced identifier absent from a table.
	ErrRowNotFound = eris.New("row not found")
	// ErrColumnNotFound reports a referenced column absent from a table.
	ErrColumnNotFound = eris.New("column not found")
)
