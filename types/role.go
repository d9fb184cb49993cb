package types

// Role is the logical server a transport is connected to.
type Role byte

const (
	Lobby Role = iota
	Login
	World
)

var Roles = []Role{Lobby, Login, World}

func (r Role) String() string {
	switch r {
	case Lobby:
		return "lobby"
	case Login:
		return "login"
	case World:
		return "world"
	}
	return "unknown"
}
