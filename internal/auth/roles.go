package auth

// Role names recognized by the management API.
//
// RoleDevice is carried by the credentials of scan channels (turnstile
// firmware bridges, QR readers). RolePorter is the concierge desk, and
// RoleManager is the tenant administrator surface that maintains points,
// groups and pairs.
const (
	RoleDevice  = "device"
	RolePorter  = "porter"
	RoleManager = "manager"
)
