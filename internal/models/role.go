package models

// Role identifies which surface a token or connection belongs to.
type Role string

const (
	// RoleHost is the facilitator console. It is the only role allowed to
	// navigate, clear alerts or end the session.
	RoleHost Role = "host"
	// RoleDisplay is the shared presentation screen.
	RoleDisplay Role = "display"
	// RoleTeam is a team device. Team tokens are additionally bound to a
	// team id.
	RoleTeam Role = "team"
)
