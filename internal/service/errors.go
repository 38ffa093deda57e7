package service

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds. Every error returned by this package that is not a storage
// failure wraps exactly one of them.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
)

var (
	ErrEstablishmentRequired = fmt.Errorf("%w: establishment is required", ErrInvalidRequest)
	ErrIdentifierRequired    = fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	ErrInvalidIdentifier     = fmt.Errorf("%w: identifier must match [a-z0-9][a-z0-9_-]{0,63}", ErrInvalidRequest)
	ErrActorRequired         = fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	ErrInvalidAmount         = fmt.Errorf("%w: amount must be in whole cents and within range", ErrInvalidRequest)
	ErrInvalidDirection      = fmt.Errorf("%w: direction must be in or out", ErrInvalidRequest)
	ErrInvalidChannel        = fmt.Errorf("%w: invalid channel", ErrInvalidRequest)
	ErrProductRefRequired    = fmt.Errorf("%w: product_ref is required", ErrInvalidRequest)
	ErrModifierRefRequired   = fmt.Errorf("%w: modifier_ref is required", ErrInvalidRequest)
	ErrInvalidQuantity       = fmt.Errorf("%w: quantity must be between 1 and 9999", ErrInvalidRequest)
	ErrInvalidPrice          = fmt.Errorf("%w: unit_price must be between 0 and 999999.99 in whole cents", ErrInvalidRequest)
	ErrInvalidConfiguration  = fmt.Errorf("%w: invalid point configuration", ErrInvalidRequest)
	ErrInvalidStatus         = fmt.Errorf("%w: invalid point status", ErrInvalidRequest)
	ErrEmptyOrder            = fmt.Errorf("%w: order has no lines", ErrInvalidRequest)

	ErrLineNotFound   = fmt.Errorf("%w: order line not found", ErrNotFound)
	ErrNoPendingOrder = fmt.Errorf("%w: no pending order for this point", ErrNotFound)

	ErrSessionAlreadyOpen = fmt.Errorf("%w: a cash session is already open", ErrConflict)
	ErrSessionNotOpen     = fmt.Errorf("%w: cash session is not open", ErrConflict)
	ErrNoOpenSession      = fmt.Errorf("%w: no open cash session", ErrConflict)
	ErrOrderNotEditable   = fmt.Errorf("%w: order is finalized", ErrConflict)
	ErrConcurrentUpdate   = fmt.Errorf("%w: concurrent update, try again", ErrConflict)
)

// Unique indexes whose violations this package translates.
const (
	constraintOneOpenSession  = "cash_sessions_one_open_idx"
	constraintOnePendingOrder = "orders_one_pending_per_point_idx"
	constraintSessionSequence = "orders_session_sequence_code_idx"
	pgUniqueViolation         = "23505"
)

// isUniqueViolation checks for a pgconn 23505 on one of the given constraints.
func isUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	for _, c := range constraints {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}
