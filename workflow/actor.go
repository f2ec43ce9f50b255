package workflow

// Role is an actor's position in the competition organization.
type Role string

// Known roles. Only the privileged four may move results through the
// workflow; any other role (athlete, coach, spectator, or an unknown
// value) is read-only.
const (
	RoleAdmin          Role = "admin"
	RoleChiefRegistrar Role = "chief_registrar"
	RoleRegistrar      Role = "registrar"
	RoleOfficial       Role = "official"
)

var privilegedRoles = map[Role]bool{
	RoleAdmin:          true,
	RoleChiefRegistrar: true,
	RoleRegistrar:      true,
	RoleOfficial:       true,
}

// Privileged reports whether the role may request workflow transitions.
func (r Role) Privileged() bool {
	return privilegedRoles[r]
}

// Actor is the authenticated user requesting a workflow operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// CanTransition reports whether the actor is allowed to move results
// through the workflow at all. Per-transition restrictions beyond the
// privileged set are a server-side concern.
func (a Actor) CanTransition() bool {
	return a.Role.Privileged()
}
