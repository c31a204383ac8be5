package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and collaborators return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store (unknown org, spec, alias)
// - ErrConflict: uniqueness violated (alias already owned by another report)
// - ErrExpired: session has outlived its allowed lifetime
// - ErrInvalidState: resource exists but cannot be parsed or used
// - ErrUnavailable: collaborator temporarily unreachable
//
// For per-field validation failures use normalize.ValidationError instead.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
