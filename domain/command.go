package domain

// RoleGate restricts who may invoke a command.
type RoleGate int

const (
	GateAny RoleGate = iota
	GateUser
	GateAdmin
)

func (g RoleGate) String() string {
	switch g {
	case GateUser:
		return "user"
	case GateAdmin:
		return "admin"
	default:
		return "any"
	}
}

// Handler executes a command. A nil reply with a nil error means the
// handler performed its own sending and the router must not double-send.
type Handler func(msg Message) (*Reply, error)

// Command is an immutable command declaration contributed by a plugin.
type Command struct {
	Name    string
	Module  string
	Usage   string
	Help    string
	MinArgs int
	Gate    RoleGate
	Handler Handler
}
