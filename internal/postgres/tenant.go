package postgres

import (
	"context"
	"fmt"

	"github.com/creditrail/creditrail/internal/types"
	"github.com/jmoiron/sqlx"
)

// applySessionContext injects the session variables read by the row-level
// security predicates. SET LOCAL scopes them to the current transaction, so
// pooled connections never leak another tenant's identity.
func applySessionContext(ctx context.Context, tx *sqlx.Tx) error {
	settings := map[string]string{
		"app.tenant_id": types.GetTenantID(ctx),
		"app.user_id":   types.GetUserID(ctx),
		"app.is_admin":  fmt.Sprintf("%t", types.IsAdmin(ctx)),
	}

	for name, value := range settings {
		if _, err := tx.ExecContext(ctx, "SELECT set_config($1, $2, true)", name, value); err != nil {
			return fmt.Errorf("failed to set session variable %s: %w", name, err)
		}
	}
	return nil
}
