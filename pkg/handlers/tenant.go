package handlers

import (
	"net/http"

	"github.com/google/uuid"
)

// TenantHeader carries the caller's tenant on every API request.
const TenantHeader = "X-Tenant-ID"

// tenantFromRequest reads and validates the tenant header, writing a 400
// when it is missing or malformed.
func tenantFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(TenantHeader)
	if raw == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_tenant", TenantHeader+" header is required")
		return uuid.Nil, false
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_tenant", TenantHeader+" is not a valid UUID")
		return uuid.Nil, false
	}
	return tenantID, true
}
