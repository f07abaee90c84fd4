package auth

type Permission string

const (
	// PermOperator reads state and starts, pauses and stops programs.
	PermOperator Permission = "operator"
	// PermTechnician loads, reloads and deletes programs, forces variables
	// and edits triggers.
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

type Role string

const (
	RoleOperator   Role = "operator"
	RoleTechnician Role = "technician"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}

func (r Role) Permissions() []Permission {
	switch r {
	case RoleAdmin:
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case RoleTechnician:
		return []Permission{PermOperator, PermTechnician}
	case RoleOperator:
		return []Permission{PermOperator}
	default:
		return nil
	}
}
