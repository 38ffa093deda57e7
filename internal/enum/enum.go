package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	PointStatusIdle     = "idle"
	PointStatusOpened   = "opened"
	PointStatusOccupied = "occupied"
	PointStatusSettled  = "settled"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusFinalized = "finalized"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
	UserRoleWaiter  = "WAITER"
)

const (
	ChannelPOS    = "pos"
	ChannelWaiter = "waiter"
	ChannelKiosk  = "kiosk"
)

const (
	MovementIn  = "in"
	MovementOut = "out"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	PointKindTable = "table"
	PointKindTab   = "tab"
)

const (
	ModifierStatusActive = "active"
)

// IsFreePointStatus reports whether a point in this status can take a new order
// without being released first.
func IsFreePointStatus(s string) bool {
	return s == PointStatusIdle || s == PointStatusSettled
}

// IsValidPointStatus checks s against the point state machine.
func IsValidPointStatus(s string) bool {
	switch s {
	case PointStatusIdle, PointStatusOpened, PointStatusOccupied, PointStatusSettled:
		return true
	}
	return false
}

// IsValidChannel checks s against the known order channels.
func IsValidChannel(s string) bool {
	switch s {
	case ChannelPOS, ChannelWaiter, ChannelKiosk:
		return true
	}
	return false
}
