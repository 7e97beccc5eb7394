// Package saga implements the CAS-governed state machines for
// long-running coordination records (delegations, handoffs): allowed
// transitions, optimistic-concurrency updates, heartbeats, and the
// stuck-saga sweeper.
package saga

// Machine is a transition table for a status enum S: Machine[from] lists
// every status a record in from may move to directly. It carries no
// record state itself — callers check a transition, then perform the CAS
// update against storage.
type Machine[S comparable] map[S][]S

// Allowed reports whether from -> to is a legal transition.
func (m Machine[S]) Allowed(from, to S) bool {
	for _, s := range m[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions in m.
func (m Machine[S]) Terminal(s S) bool {
	return len(m[s]) == 0
}
