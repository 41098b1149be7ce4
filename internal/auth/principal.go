package auth

// PrincipalKind distinguishes the two ways a request can authenticate.
type PrincipalKind string

const (
	// PrincipalEnvAdmin is an operator authenticated by an
	// environment-configured admin token. Env admins bypass workspace
	// membership checks entirely.
	PrincipalEnvAdmin PrincipalKind = "env"

	// PrincipalDatabaseUser is a user resolved from an API key in storage.
	PrincipalDatabaseUser PrincipalKind = "database"
)

// Principal is the authenticated identity for one request. It is a tagged
// union over PrincipalKind: env admins carry no user or key, database users
// carry both. Principals are created per request and never persisted.
type Principal struct {
	Kind     PrincipalKind
	UserID   string // set only for PrincipalDatabaseUser
	APIKeyID string // set only for PrincipalDatabaseUser
}

// BypassesWorkspaceChecks reports whether this principal skips membership
// lookups and is treated as OWNER everywhere.
func (p *Principal) BypassesWorkspaceChecks() bool {
	return p.Kind == PrincipalEnvAdmin
}
