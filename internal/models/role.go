package models

type Role string

const (
	RoleAdmin              Role = "admin"
	RoleProjectCoordinator Role = "project_coordinator"
	RoleLabEngineer        Role = "lab_engg"
	RoleWeldingCoordinator Role = "welding_coordinator"
)

// Roles lists every known role. New roles must be added here and to the users table check constraint
var Roles = []Role{
	RoleAdmin,
	RoleProjectCoordinator,
	RoleLabEngineer,
	RoleWeldingCoordinator,
}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}
