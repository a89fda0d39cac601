// Package sim implements the beam-current simulation engine: a fixed-period
// tick loop that models exponential decay, multi-phase injection cycles,
// random fault transitions, and arbitration with externally requested mode
// changes, all against the shared control variable store.
package sim

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/beamsim/spearsim/internal/pv"
)

// Config holds the simulation constants. The defaults reproduce the SPEAR
// reference envelope: 500 mA decaying to the 495 mA injection threshold in
// about 360 s, refilled at 0.5 mA/s (20 mA/s after a Down recovery).
type Config struct {
	TickPeriod       time.Duration // simulation step period
	DecayTau         float64       // beam decay time constant (s)
	InjectThreshold  float64       // current below this triggers injection (mA)
	SlowInjectRate   float64       // injection rate in normal operation (mA/s)
	FastInjectRate   float64       // injection rate after a Down recovery (mA/s)
	BeamlineWait     float64       // duration of the BeamlineWait phase (s)
	FaultProbability float64       // probability per second of a random Down transition
	NoiseMin         float64       // AccPhy per-second perturbation, lower bound (mA)
	NoiseMax         float64       // AccPhy per-second perturbation, upper bound (mA)
	Rand             *rand.Rand    // random source; nil means time-seeded
}

// DefaultConfig returns the reference simulation constants.
func DefaultConfig() Config {
	return Config{
		TickPeriod:       time.Millisecond,
		DecayTau:         31162.0,
		InjectThreshold:  495.0,
		SlowInjectRate:   0.5,
		FastInjectRate:   20.0,
		BeamlineWait:     0.000001,
		FaultProbability: 0.001,
		NoiseMin:         -0.1,
		NoiseMax:         0.5,
	}
}

// EventType classifies engine events.
type EventType int

const (
	// EventModeChange fires on every machine mode transition, autonomous
	// or externally requested.
	EventModeChange EventType = iota
	// EventFault fires when a random fault forces the machine Down.
	EventFault
	// EventInjectionComplete fires when an injection cycle finishes.
	EventInjectionComplete
)

// Event describes a state transition observed by the engine.
type Event struct {
	Type    EventType
	From    MachineMode
	To      MachineMode
	Reason  string
	Message string
	Time    time.Time
}

// Status is a point-in-time view of the engine-owned simulation state.
type Status struct {
	Mode           string  `json:"mode"`
	Phase          string  `json:"phase"`
	Alarm          string  `json:"alarm"`
	BeamCurrentAvg float64 `json:"beam_current_avg"`
	SimTime        float64 `json:"sim_time_s"`
	InjectTimer    float64 `json:"inject_timer_s"`
	InjectRate     float64 `json:"inject_rate_ma_s"`
	Injecting      bool    `json:"injecting"`
	ManualOverride bool    `json:"manual_override"`
	Ticks          uint64  `json:"ticks"`
}

// Engine owns the simulation state and advances it once per tick. Exactly
// one engine exists per process; it is the sole writer of beamCurrentAvg,
// injectionPhase transitions, and alarmLevel (outside the mode write hook).
type Engine struct {
	store *pv.Store
	cfg   Config
	rng   *rand.Rand

	// Engine-owned simulation state. Guarded by the store mutex: it is
	// only touched inside store.Update or inside write hooks.
	simTime        float64
	injectTimer    float64
	injecting      bool
	manualOverride bool
	injectRate     float64
	lastMode       MachineMode
	ticks          uint64

	// Events collected during a tick or a write hook, delivered outside
	// the store's critical section.
	pending []Event

	onEvent func(Event)
}

// New creates the engine, registers the control variable table on the store,
// and installs the external write policies. onEvent, if non-nil, is called
// outside the store lock for every engine event; it must not block.
func New(store *pv.Store, cfg Config, onEvent func(Event)) *Engine {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		store:      store,
		cfg:        cfg,
		rng:        rng,
		injectRate: cfg.SlowInjectRate,
		lastMode:   ModeBeam,
		onEvent:    onEvent,
	}

	registerVariables(store)
	store.SetHook(VarMachineMode, e.machineModeHook)
	store.SetHook(VarDebugInjectingOverride, e.debugInjectingHook)
	return e
}

// Run drives the tick loop until ctx is cancelled. The loop is not
// reentrant: a tick's commit always completes before the next tick starts.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("sim: engine started (tick=%s tau=%.0fs threshold=%.1fmA)",
		e.cfg.TickPeriod, e.cfg.DecayTau, e.cfg.InjectThreshold)

	ticker := time.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("sim: engine stopped after %d ticks", e.ticks)
			return
		case <-ticker.C:
			e.Step()
		}
	}
}

// Step advances the simulation by one tick period and commits the result
// atomically, then delivers any collected events.
func (e *Engine) Step() {
	var events []Event
	e.store.Update(func(tx *pv.Tx) {
		e.tick(tx, e.cfg.TickPeriod.Seconds())
		events = e.drainLocked()
	})
	e.deliver(events)
}

// Status reads the engine-owned state consistently with the store.
func (e *Engine) Status() Status {
	var st Status
	e.store.Update(func(tx *pv.Tx) {
		st = Status{
			Mode:           MachineMode(tx.Enum(VarMachineMode)).String(),
			Phase:          InjectionPhase(tx.Enum(VarInjectionPhase)).String(),
			Alarm:          AlarmLevel(tx.Enum(VarAlarmLevel)).String(),
			BeamCurrentAvg: tx.Float(VarBeamCurrentAvg),
			SimTime:        e.simTime,
			InjectTimer:    e.injectTimer,
			InjectRate:     e.injectRate,
			Injecting:      e.injecting,
			ManualOverride: e.manualOverride,
			Ticks:          e.ticks,
		}
	})
	return st
}

// DrainEvents delivers events collected by write hooks between ticks.
// The tick loop calls this implicitly via Step; tests may call it directly.
func (e *Engine) DrainEvents() {
	var events []Event
	e.store.Update(func(tx *pv.Tx) {
		events = e.drainLocked()
	})
	e.deliver(events)
}

// tick runs one simulation step. It executes entirely under the store lock,
// so external readers and writers never observe a torn tick.
func (e *Engine) tick(tx *pv.Tx, dt float64) {
	e.ticks++

	mode := MachineMode(tx.Enum(VarMachineMode))
	phase := InjectionPhase(tx.Enum(VarInjectionPhase))
	avg := tx.Float(VarBeamCurrentAvg)
	desired := tx.Float(VarBeamCurrentDesired)
	floor := tx.Float(VarBeamCurrentAvgMin)

	e.simTime += dt

	// Manual recovery edge: a Down machine set back to Beam or Inject is
	// refilled at the fast rate. A requested Beam is forced through an
	// injection cycle first.
	if e.lastMode == ModeDown && (mode == ModeInject || mode == ModeBeam) && e.manualOverride {
		log.Printf("sim: manual recovery from Down, refilling at %.1f mA/s", e.cfg.FastInjectRate)
		e.injectRate = e.cfg.FastInjectRate
		e.injecting = true
		e.injectTimer = rampDuration(desired, avg, e.injectRate)
		if mode == ModeBeam {
			e.setMode(tx, ModeInject, "down recovery")
		}
		mode = ModeInject
	}

	switch mode {
	case ModeBeam:
		e.injecting = false
		e.injectRate = e.cfg.SlowInjectRate
		avg = desired * math.Exp(-e.simTime/e.cfg.DecayTau)
		if avg < e.cfg.InjectThreshold && phase == PhaseNone && !e.manualOverride {
			log.Printf("sim: current %.3f mA below %.1f mA, starting injection", avg, e.cfg.InjectThreshold)
			e.injecting = true
			e.setMode(tx, ModeInject, "threshold")
		}

	case ModeInject:
		if !e.injecting {
			// Inconsistent state: recover locally, never propagate.
			log.Printf("sim: Inject mode without an active injection, forcing Beam")
			tx.SetEnum(VarInjectionPhase, int(PhaseNone))
			e.setMode(tx, ModeBeam, "inconsistent state")
			e.lastMode = ModeBeam
			return
		}
		switch phase {
		case PhaseNone:
			tx.SetEnum(VarInjectionPhase, int(PhaseBeamlineWait))
			e.injectTimer = e.cfg.BeamlineWait
		case PhaseBeamlineWait:
			e.injectTimer -= dt
			if e.injectTimer <= 0 {
				tx.SetEnum(VarInjectionPhase, int(PhaseInjecting))
				e.injectTimer = rampDuration(desired, avg, e.injectRate)
			}
		case PhaseInjecting:
			e.injectTimer -= dt
			step := e.injectRate * dt
			if desired-avg <= step {
				avg = desired
			} else {
				avg += step
			}
			if e.injectTimer <= 0 {
				log.Printf("sim: injection complete at %.3f mA, returning to Beam", avg)
				tx.SetEnum(VarInjectionPhase, int(PhaseNone))
				e.setMode(tx, ModeBeam, "injection complete")
				e.injecting = false
				e.manualOverride = false
				e.simTime = 0
				e.pending = append(e.pending, Event{
					Type: EventInjectionComplete,
					From: ModeInject, To: ModeBeam,
					Message: "injection cycle finished",
					Time:    time.Now(),
				})
			}
		}

	case ModeAccPhy:
		avg -= e.uniform(e.cfg.NoiseMin, e.cfg.NoiseMax) * dt
		if avg < floor {
			avg = floor
		}
		if phase != PhaseNone {
			tx.SetEnum(VarInjectionPhase, int(PhaseNone))
		}
		e.injecting = false

	case ModeDown:
		avg = 0
		if phase != PhaseNone {
			tx.SetEnum(VarInjectionPhase, int(PhaseNone))
		}
		e.injecting = false
	}

	if avg < 0 {
		avg = 0
	}
	if mode != ModeAccPhy && avg > desired {
		avg = desired
	}
	tx.SetFloat(VarBeamCurrentAvg, avg)

	// Random fault: one trial per tick while no injection cycle is active.
	if phase == PhaseNone && !e.manualOverride && mode != ModeDown &&
		e.rng.Float64() < e.cfg.FaultProbability*dt {
		log.Printf("sim: random fault, machine going Down")
		e.setMode(tx, ModeDown, "random fault")
		tx.SetEnum(VarAlarmLevel, int(AlarmWarning))
		e.pending = append(e.pending, Event{
			Type: EventFault,
			From: mode, To: ModeDown,
			Reason:  "random fault",
			Message: "simulator has entered Down mode; set machineMode back to Beam to recover",
			Time:    time.Now(),
		})
	} else if mode != ModeDown && !e.injecting {
		tx.SetEnum(VarAlarmLevel, int(AlarmOK))
		e.manualOverride = false
	}

	e.lastMode = MachineMode(tx.Enum(VarMachineMode))
}

// machineModeHook arbitrates external machine mode requests. A direct
// Inject request is only honored while an injection is underway or as the
// Down recovery fast path.
func (e *Engine) machineModeHook(tx *pv.Tx, cur, req pv.Value) pv.Value {
	curMode := MachineMode(cur.Index)
	reqMode := MachineMode(req.Index)

	if reqMode == ModeInject && !e.injecting && curMode != ModeDown {
		log.Printf("sim: rejected manual Inject request (no injection underway)")
		return cur
	}

	if reqMode == ModeInject && curMode == ModeDown {
		// Manual Down recovery: allow the injection and use the fast rate.
		e.injecting = true
		e.injectRate = e.cfg.FastInjectRate
	}
	if reqMode != ModeInject {
		e.manualOverride = true
	}

	if reqMode == ModeDown {
		tx.SetEnum(VarAlarmLevel, int(AlarmWarning))
	} else {
		tx.SetEnum(VarAlarmLevel, int(AlarmOK))
	}

	if curMode != reqMode {
		log.Printf("sim: machine mode %s -> %s (external)", curMode, reqMode)
		e.pending = append(e.pending, Event{
			Type: EventModeChange,
			From: curMode, To: reqMode,
			Reason: "external request",
			Time:   time.Now(),
		})
	}
	return req
}

// debugInjectingHook forces the injecting flag, bypassing arbitration.
func (e *Engine) debugInjectingHook(tx *pv.Tx, cur, req pv.Value) pv.Value {
	e.injecting = req.Flag
	log.Printf("sim: injecting flag forced to %v", req.Flag)
	return req
}

// setMode commits an engine-driven mode transition and queues its event.
func (e *Engine) setMode(tx *pv.Tx, to MachineMode, reason string) {
	from := MachineMode(tx.Enum(VarMachineMode))
	if from == to {
		return
	}
	tx.SetEnum(VarMachineMode, int(to))
	e.pending = append(e.pending, Event{
		Type: EventModeChange,
		From: from, To: to,
		Reason: reason,
		Time:   time.Now(),
	})
}

func (e *Engine) drainLocked() []Event {
	events := e.pending
	e.pending = nil
	return events
}

func (e *Engine) deliver(events []Event) {
	if e.onEvent == nil {
		return
	}
	for _, ev := range events {
		e.onEvent(ev)
	}
}

func (e *Engine) uniform(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}

// rampDuration is the time to close the gap between desired and current at
// the given rate.
func rampDuration(desired, current, rate float64) float64 {
	gap := desired - current
	if gap < 0 {
		gap = 0
	}
	if rate <= 0 {
		return 0
	}
	return gap / rate
}
