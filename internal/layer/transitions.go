package layer

// TransitionTable restricts which targets are reachable from a source layer.
// A source without an entry is unrestricted.
type TransitionTable map[Layer][]Layer

// DefaultTransitions returns the restrictions shipped with the panel.
// Only the power and alarm screens are locked down; every other screen
// can navigate anywhere.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		Start:   {Warming, Alarm, IncomingCall},
		Warming: {Laptop, Start, Alarm},
		Cooling: {Start, Alarm},
		Alarm:   {Start, RoomControls},
	}
}

// Allows reports whether the table permits moving from one layer to another.
func (t TransitionTable) Allows(from, to Layer) bool {
	permitted, restricted := t[from]
	if !restricted {
		return true
	}
	for _, l := range permitted {
		if l == to {
			return true
		}
	}
	return false
}

// Restricted reports whether from has an entry in the table.
func (t TransitionTable) Restricted(from Layer) bool {
	_, ok := t[from]
	return ok
}

// Merge returns a copy of t with the entries of overrides replacing its own.
func (t TransitionTable) Merge(overrides TransitionTable) TransitionTable {
	merged := make(TransitionTable, len(t)+len(overrides))
	for from, targets := range t {
		merged[from] = append([]Layer(nil), targets...)
	}
	for from, targets := range overrides {
		merged[from] = append([]Layer(nil), targets...)
	}
	return merged
}
