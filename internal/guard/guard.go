// Package guard holds the authorization checks run before any admin-only
// state change.
package guard

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/ledger"
)

// RequireAdmin fails with PERMISSION_DENIED unless caller is the admin.
func RequireAdmin(caller, admin ledger.Address) error {
	if caller == "" || caller != admin {
		return apperr.WithMetadata(apperr.CodePermissionDenied, "caller is not the ledger admin",
			map[string]string{"caller": caller.String()})
	}
	return nil
}

// RequireOwnerOrAdmin fails with NOT_OWNER unless caller owns the resource
// or is the admin.
func RequireOwnerOrAdmin(caller, owner, admin ledger.Address) error {
	if caller != "" && (caller == owner || caller == admin) {
		return nil
	}
	return apperr.WithMetadata(apperr.CodeNotOwner, "caller is neither owner nor admin",
		map[string]string{"caller": caller.String()})
}
