package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Transport and client layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about remote resources, not validation
// failures:
// - ErrNotFound: entity does not exist downstream
// - ErrConflict: entity already exists downstream
// - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
