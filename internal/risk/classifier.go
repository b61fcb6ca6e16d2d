package risk

// Archetype labels a qualifying cluster with its cascade shape. The label is
// advisory metadata on an alert, never a gate on whether the alert fires.
type Archetype int

const (
	ArchetypeNone Archetype = iota
	ArchetypeFlash
	ArchetypeRolling
	ArchetypeDeathSpiral
)

func (a Archetype) String() string {
	switch a {
	case ArchetypeFlash:
		return "FLASH_CASCADE"
	case ArchetypeRolling:
		return "ROLLING_CASCADE"
	case ArchetypeDeathSpiral:
		return "DEATH_SPIRAL"
	default:
		return "NONE"
	}
}

// archetype windows: duration ceiling in seconds and minimum event count.
// Duration is inclusive at the ceiling, count is inclusive at the minimum.
var archetypeWindows = []struct {
	kind     Archetype
	maxDur   float64
	minCount int
}{
	{ArchetypeFlash, 30, 5},
	{ArchetypeRolling, 300, 10},
	{ArchetypeDeathSpiral, 900, 20},
}

// Classify is a stateless label over one cluster. Clusters matching no
// archetype stay tracked but unlabeled. Tighter archetypes win: a 20-second
// burst of 12 events is FLASH_CASCADE, not ROLLING_CASCADE.
func Classify(durationSeconds float64, count int) Archetype {
	for _, w := range archetypeWindows {
		if durationSeconds <= w.maxDur && count >= w.minCount {
			return w.kind
		}
	}
	return ArchetypeNone
}

// HorizonSeconds returns the duration ceiling for an archetype, 0 for none.
// The engine uses it to re-window the event store per archetype when probing
// the slower cascade shapes.
func (a Archetype) HorizonSeconds() float64 {
	for _, w := range archetypeWindows {
		if w.kind == a {
			return w.maxDur
		}
	}
	return 0
}
