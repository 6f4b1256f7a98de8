package dhcpc

import "fmt"

type State uint8

const (
	StateInit State = iota
	StateSelecting
	StateRequesting
	StateBound
	StateRenewing
	StateRebinding
	StateInitReboot
	StateRebooting
	StateStopped
)

var stateNames = []string{
	"INIT", "SELECTING", "REQUESTING", "BOUND",
	"RENEWING", "REBINDING", "INIT-REBOOT", "REBOOTING",
	"STOPPED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown client state %q", text)
}

// HasLease reports whether the client holds a usable address in s.
func (s State) HasLease() bool {
	return s == StateBound || s == StateRenewing || s == StateRebinding
}
