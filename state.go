package modhost

import (
	"fmt"
	"strings"
)

// ModuleState is the lifecycle state of a loaded module.
type ModuleState int

const (
	// StateCreated is a loaded module that has never been started.
	StateCreated ModuleState = iota
	// StateDisabled modules are skipped by bulk and single starts.
	StateDisabled
	// StateStarted modules own an isolated context and their published
	// extensions and routes.
	StateStarted
	// StateStopped modules were started and have since been torn down.
	StateStopped
)

var stateNames = map[ModuleState]string{
	StateCreated:  "CREATED",
	StateDisabled: "DISABLED",
	StateStarted:  "STARTED",
	StateStopped:  "STOPPED",
}

func (s ModuleState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ModuleState(%d)", int(s))
}

// MarshalText renders the upper-case state name.
func (s ModuleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name, case-insensitively.
func (s *ModuleState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if strings.EqualFold(name, string(text)) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown module state %q", text)
}
