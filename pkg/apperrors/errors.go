package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrNotPending         = errors.New("candidate is not pending")
	ErrTenantMismatch     = errors.New("records belong to different tenants")
	ErrInvariant          = errors.New("invariant violation")
	ErrInvalidCredentials = errors.New("invalid CRM credentials")
	ErrUnknownLeadSource  = errors.New("unknown lead source")
)
