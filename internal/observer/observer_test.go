package observer

import (
	"testing"
	"time"
)

func TestIdleLoopDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var events []Event
	// Working->Idle transitions also count toward ErrorLoop, which fires
	// on the same third cycle; only the IdleLoop events are checked here.
	o.Signals.StuckDetected = func(e Event) {
		if e.Pattern == IdleLoop {
			events = append(events, e)
		}
	}

	base := time.Now()
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		end := start.Add(2 * time.Second) // fast cycle
		o.OnStateTransition("Idle", "Working", start, 0)
		o.OnStateTransition("Working", "Idle", end, 0)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Pattern != IdleLoop || events[0].Severity != 1 {
		t.Errorf("event = %+v", events[0])
	}
}

func TestIdleLoopSuppressedByTokenDelta(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg)
	fired := false
	o.Signals.StuckDetected = func(e Event) {
		if e.Pattern == IdleLoop {
			fired = true
		}
	}
	base := time.Now()
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		end := start.Add(2 * time.Second)
		o.OnStateTransition("Idle", "Working", start, 0)
		o.OnStateTransition("Working", "Idle", end, 10000)
	}
	if fired {
		t.Error("IdleLoop fired despite token delta >= 5000")
	}
}

func TestContextRotRequiresThreeInitialSamples(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg)
	fired := false
	o.Signals.StuckDetected = func(e Event) {
		if e.Pattern == ContextRot {
			fired = true
		}
	}
	now := time.Now()
	// Only one sample before a huge-input low-output update: no initial
	// ratio established yet, so no trigger even though the shape matches.
	o.OnTokenUpdate(now, 1000, 0.1, 100, 50)
	o.OnTokenUpdate(now, 900000, 5, 900000, 10)
	if fired {
		t.Error("ContextRot fired with <3 initial samples")
	}
}

func TestContextRotFiresAfterDegradation(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg)
	fired := false
	o.Signals.StuckDetected = func(e Event) {
		if e.Pattern == ContextRot {
			fired = true
		}
	}
	now := time.Now()
	o.OnTokenUpdate(now, 1000, 0.1, 1000, 500) // ratio 0.5
	o.OnTokenUpdate(now, 2000, 0.2, 1000, 500)
	o.OnTokenUpdate(now, 3000, 0.3, 1000, 500)
	// initial ratio ~0.5; now a huge-input low-ratio sample.
	o.OnTokenUpdate(now, 900000, 5, 900000, 10000) // ratio ~0.011 < 0.25
	if !fired {
		t.Error("expected ContextRot to fire after ratio degradation")
	}
}

func TestPermissionStorm(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg)
	fired := false
	o.Signals.StuckDetected = func(e Event) {
		if e.Pattern == PermissionStorm {
			fired = true
		}
	}
	base := time.Now()
	for i := 0; i < 10; i++ {
		o.OnApproval(base.Add(time.Duration(i)*time.Second), "Bash")
	}
	if !fired {
		t.Error("expected PermissionStorm to fire")
	}
}

func TestComposedSeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	base := time.Now()
	for i := 0; i < 10; i++ {
		o.OnApproval(base.Add(time.Duration(i)*time.Second), "Bash")
	}
	if o.ComposedSeverity() != 1 {
		t.Errorf("ComposedSeverity = %d, want 1", o.ComposedSeverity())
	}
}

func TestInterventionPolicyMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = AutoDowngrade
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var got Intervention
	o.Signals.Intervened = func(p Pattern, iv Intervention) { got = iv }
	base := time.Now()
	for i := 0; i < 10; i++ {
		o.OnApproval(base.Add(time.Duration(i)*time.Second), "Bash")
	}
	if got != Adjust {
		t.Errorf("severity 1 under AutoDowngrade = %v, want Adjust", got)
	}
}

func TestErrorLoopClearsOnceWindowAges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorLoopCount = 2
	cfg.ErrorLoopWindowSeconds = 1
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var cleared []Pattern
	o.Signals.PatternCleared = func(p Pattern) { cleared = append(cleared, p) }

	base := time.Now()
	o.OnStateTransition("Working", "Error", base, 0)
	o.OnStateTransition("Working", "Error", base.Add(100*time.Millisecond), 0)
	if _, ok := o.active[ErrorLoop]; !ok {
		t.Fatal("expected ErrorLoop to be active after two errors inside the window")
	}

	o.OnStateTransition("Working", "Error", base.Add(5*time.Second), 0)
	if _, ok := o.active[ErrorLoop]; ok {
		t.Error("expected ErrorLoop to clear once prior errors age out of the window")
	}
	if len(cleared) != 1 || cleared[0] != ErrorLoop {
		t.Errorf("PatternCleared = %v, want one ErrorLoop clear", cleared)
	}
}

func TestCostSpiralClearsOnceWindowAges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CostSpiralTokenThreshold = 100
	cfg.CostSpiralCostThreshold = 1.0
	cfg.CostSpiralWindowSeconds = 60
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var cleared []Pattern
	o.Signals.PatternCleared = func(p Pattern) { cleared = append(cleared, p) }

	base := time.Now()
	o.OnTokenUpdate(base, 0, 0, 0, 0)
	o.OnTokenUpdate(base.Add(time.Second), 200, 2.0, 0, 0)
	if _, ok := o.active[CostSpiral]; !ok {
		t.Fatal("expected CostSpiral to be active after a fast token/cost burn")
	}

	o.OnTokenUpdate(base.Add(100*time.Second), 200, 2.0, 0, 0)
	if _, ok := o.active[CostSpiral]; ok {
		t.Error("expected CostSpiral to clear once earlier samples age out of the window")
	}
	if len(cleared) != 1 || cleared[0] != CostSpiral {
		t.Errorf("PatternCleared = %v, want one CostSpiral clear", cleared)
	}
}

func TestContextRotClearsOnceRatioRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var cleared []Pattern
	o.Signals.PatternCleared = func(p Pattern) { cleared = append(cleared, p) }

	now := time.Now()
	o.OnTokenUpdate(now, 1000, 0.1, 1000, 500) // ratio 0.5
	o.OnTokenUpdate(now, 2000, 0.2, 1000, 500)
	o.OnTokenUpdate(now, 3000, 0.3, 1000, 500) // initial ratio ~0.5 established

	o.OnTokenUpdate(now, 900000, 5, 900000, 10000) // ratio ~0.011 < 0.25 threshold
	if _, ok := o.active[ContextRot]; !ok {
		t.Fatal("expected ContextRot to be active after ratio degradation")
	}

	o.OnTokenUpdate(now, 900100, 5, 900000, 300000) // ratio ~0.333 >= 0.25 threshold
	if _, ok := o.active[ContextRot]; ok {
		t.Error("expected ContextRot to clear once the output ratio recovers")
	}
	if len(cleared) != 1 || cleared[0] != ContextRot {
		t.Errorf("PatternCleared = %v, want one ContextRot clear", cleared)
	}
}

func TestPermissionStormClearsOnceWindowAges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var cleared []Pattern
	o.Signals.PatternCleared = func(p Pattern) { cleared = append(cleared, p) }

	base := time.Now()
	for i := 0; i < 10; i++ {
		o.OnApproval(base.Add(time.Duration(i)*time.Second), "Bash")
	}
	if _, ok := o.active[PermissionStorm]; !ok {
		t.Fatal("expected PermissionStorm to be active after a burst of approvals")
	}

	o.OnApproval(base.Add(60*time.Second), "Read")
	if _, ok := o.active[PermissionStorm]; ok {
		t.Error("expected PermissionStorm to clear once the burst ages out of the window")
	}
	if len(cleared) != 1 || cleared[0] != PermissionStorm {
		t.Errorf("PatternCleared = %v, want one PermissionStorm clear", cleared)
	}
}

func TestSubagentChurnClearsOnceWindowAges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var cleared []Pattern
	o.Signals.PatternCleared = func(p Pattern) { cleared = append(cleared, p) }

	base := time.Now()
	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Second)
		id := string(rune('a' + i))
		o.OnSubagentStart(start, id)
		o.OnSubagentStop(start.Add(time.Second), id) // ranSeconds=1, below completion threshold
	}
	if _, ok := o.active[SubagentChurn]; !ok {
		t.Fatal("expected SubagentChurn to be active after a burst of incomplete subagents")
	}

	later := base.Add(time.Duration(o.cfg.SubagentChurnWindowSeconds+60) * time.Second)
	o.OnSubagentStart(later, "z")
	o.OnSubagentStop(later.Add(time.Second), "z")
	if _, ok := o.active[SubagentChurn]; ok {
		t.Error("expected SubagentChurn to clear once the burst ages out of the window")
	}
	if len(cleared) != 1 || cleared[0] != SubagentChurn {
		t.Errorf("PatternCleared = %v, want one SubagentChurn clear", cleared)
	}
}

func TestSweepClearsIdleLoopOnceWorkCycleIsProductive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterventionCooldownSecs = 0
	o := New(cfg)
	var cleared []Pattern
	// The fast cycles also raise ErrorLoop, which the same Sweep clears as
	// its window ages; only IdleLoop clears are recorded here.
	o.Signals.PatternCleared = func(p Pattern) {
		if p == IdleLoop {
			cleared = append(cleared, p)
		}
	}

	base := time.Now()
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		end := start.Add(2 * time.Second)
		o.OnStateTransition("Idle", "Working", start, 0)
		o.OnStateTransition("Working", "Idle", end, 0)
	}
	if _, ok := o.active[IdleLoop]; !ok {
		t.Fatal("expected IdleLoop to be active after three unproductive cycles")
	}

	productiveStart := base.Add(10 * time.Minute)
	productiveEnd := productiveStart.Add(time.Duration(cfg.IdleLoopMinWorkSeconds+5) * time.Second)
	o.OnStateTransition("Idle", "Working", productiveStart, 0)
	o.OnStateTransition("Working", "Idle", productiveEnd, 0)

	o.Sweep(productiveEnd.Add(time.Minute))
	if _, ok := o.active[IdleLoop]; ok {
		t.Error("expected Sweep to clear IdleLoop once the latest cycle was productive")
	}
	if len(cleared) != 1 || cleared[0] != IdleLoop {
		t.Errorf("PatternCleared = %v, want one IdleLoop clear", cleared)
	}
}

func TestResetClearsTrackingNotCooldowns(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg)
	base := time.Now()
	for i := 0; i < 10; i++ {
		o.OnApproval(base.Add(time.Duration(i)*time.Second), "Bash")
	}
	cooldownBefore := len(o.cooldown)
	o.Reset()
	if len(o.approvals) != 0 {
		t.Error("Reset did not clear approvals")
	}
	if len(o.cooldown) != cooldownBefore {
		t.Error("Reset cleared cooldowns, should not")
	}
}
