package device

// State is a device lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateProvisioning State = "provisioning"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateCrashed      State = "crashed"
	StateRestarting   State = "restarting"
	StateStopping     State = "stopping"
	StateFailed       State = "failed"
)

// Idle reports whether no process is associated with the state.
func (s State) Idle() bool {
	return s == StateStopped || s == StateFailed
}

// Transitional reports whether a stop request has to cancel an in-flight
// start attempt rather than stop a running pair.
func (s State) Transitional() bool {
	switch s {
	case StateProvisioning, StateStarting, StateRestarting, StateCrashed:
		return true
	}
	return false
}
