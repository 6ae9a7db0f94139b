package kinds

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Bases returns the base ids packed above the leading id of t.
func Bases(t uint64) [depthMax]uint64 {
	var bases [depthMax]uint64
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (t >> (idLength * i)) & idMask
	}
	return bases
}

// Kind packs id together with every id found in bases.
func Kind(id uint64, bases ...uint64) uint64 {
	id = id & idMask
	ids := make(map[uint64]struct{})

	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind is, or derives from, any of bases.
func IsKind(kind uint64, bases ...uint64) bool {
	for _, base := range bases {
		baseId := base & idMask
		if kind == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			currentId := (kind >> (idLength * i)) & idMask
			if currentId == baseId {
				return true
			}
		}
	}
	return false
}

// Name returns a readable name for the most derived kind.
func Name(kind uint64) string {
	if name, ok := names[kind&idMask]; ok {
		return name
	}
	return "Unknown"
}

var (
	Null         = Kind(0)
	Element      = Kind(1)
	Vertex       = Kind(2, Element)
	State        = Kind(3, Vertex)
	StateMachine = Kind(4, State)
	Orthogonal   = Kind(5, StateMachine)
	Transition   = Kind(6, Element)
	Internal     = Kind(7, Transition)
	External     = Kind(8, Transition)
	Event        = Kind(9, Element)
)

var names = map[uint64]string{
	Null & idMask:         "Null",
	Element & idMask:      "Element",
	Vertex & idMask:       "Vertex",
	State & idMask:        "State",
	StateMachine & idMask: "StateMachine",
	Orthogonal & idMask:   "Orthogonal",
	Transition & idMask:   "Transition",
	Internal & idMask:     "Internal",
	External & idMask:     "External",
	Event & idMask:        "Event",
}
