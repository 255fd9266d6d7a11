package auth

// Role is the marketplace role carried by an authenticated principal.
type Role string

const (
	RoleFarmer             Role = "farmer"
	RoleInstitutionalBuyer Role = "institutional_buyer"
	RoleConsumer           Role = "consumer"
	RoleAdmin              Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleInstitutionalBuyer, RoleConsumer, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller as handed over by the session layer.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

func (p Principal) IsFarmer() bool { return p.Role == RoleFarmer }

// System is the principal used by background workers (sweeper, webhook).
var System = Principal{ID: "system", Role: RoleAdmin}
