package authz

import "sync"

// KillSwitch is a process-wide emergency gate checked ahead of every
// other evaluation step. It is explicit state handed to the evaluator,
// not a hidden global: construct it once, share the pointer.
type KillSwitch struct {
	mu      sync.RWMutex
	engaged bool
	cause   string
}

// NewKillSwitch returns a disengaged switch.
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Engage trips the switch; every subsequent evaluation denies.
func (k *KillSwitch) Engage(cause string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.engaged = true
	k.cause = cause
}

// Release re-opens the switch.
func (k *KillSwitch) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.engaged = false
	k.cause = ""
}

// Engaged reports the current state and the recorded cause.
func (k *KillSwitch) Engaged() (bool, string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.engaged, k.cause
}
