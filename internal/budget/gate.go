package budget

// GateAction is the response taken when a resource gate trips.
type GateAction string

const (
	PauseYolo  GateAction = "PauseYolo"
	ReduceYolo GateAction = "ReduceYolo"
	NotifyOnly GateAction = "NotifyOnly"
)

// defaultAutoRSSThresholdBytes is used when no explicit threshold and no
// detected physical-RAM figure is available: 80% of an assumed 8 GiB,
// i.e. 6.4 GiB, per spec §3.
const defaultAutoRSSThresholdBytes = uint64(64 * 1024 * 1024 * 1024 / 10)

// ResourceGate debounces CPU/RSS breaches into a single triggered/cleared
// edge, pausing autonomy while triggered.
type ResourceGate struct {
	CPUThresholdPercent float64
	CPUDebounceCount    int
	RSSThresholdBytes   uint64 // 0 = auto
	Action              GateAction

	currentCPUExceedCount int
	gateTriggered         bool
	rssTripped            bool
	clearedThisUpdate     bool
}

// NewResourceGate applies spec defaults for any zero field.
func NewResourceGate(g ResourceGate) *ResourceGate {
	if g.CPUThresholdPercent == 0 {
		g.CPUThresholdPercent = 95
	}
	if g.CPUDebounceCount == 0 {
		g.CPUDebounceCount = 6
	}
	if g.Action == "" {
		g.Action = PauseYolo
	}
	return &g
}

func (g *ResourceGate) rssThreshold() uint64 {
	if g.RSSThresholdBytes > 0 {
		return g.RSSThresholdBytes
	}
	return defaultAutoRSSThresholdBytes
}

// Update feeds one CPU%/RSS sample. Returns true iff the gate transitioned
// from untriggered to triggered on this call (a rising edge).
func (g *ResourceGate) Update(cpuPercent float64, rssBytes uint64) bool {
	g.clearedThisUpdate = false
	wasTriggered := g.gateTriggered

	if cpuPercent >= g.CPUThresholdPercent {
		g.currentCPUExceedCount++
	} else {
		g.currentCPUExceedCount = 0
	}
	cpuTripped := g.currentCPUExceedCount >= g.CPUDebounceCount
	rssTripped := rssBytes >= g.rssThreshold()
	g.rssTripped = rssTripped

	if cpuTripped || rssTripped {
		g.gateTriggered = true
	} else if cpuPercent < g.CPUThresholdPercent && rssBytes < g.rssThreshold() {
		if g.gateTriggered {
			g.clearedThisUpdate = true
		}
		g.gateTriggered = false
	}

	return !wasTriggered && g.gateTriggered
}

// Triggered reports the current gate state.
func (g *ResourceGate) Triggered() bool {
	return g.gateTriggered
}

// CPUExceedCount exposes the debounce counter, for tests/diagnostics.
func (g *ResourceGate) CPUExceedCount() int {
	return g.currentCPUExceedCount
}
