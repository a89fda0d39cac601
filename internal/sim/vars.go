package sim

import "github.com/beamsim/spearsim/internal/pv"

// Control variable names exposed by the simulator.
const (
	VarBeamCurrentAvg         = "beamCurrentAvg"
	VarBeamCurrentAvgMin      = "beamCurrentAvgMin"
	VarBeamCurrentDesired     = "beamCurrentDesired"
	VarMachineMode            = "machineMode"
	VarInjectionPhase         = "injectionPhase"
	VarAlarmLevel             = "alarmLevel"
	VarDebugInjectingOverride = "debugInjectingOverride"
)

// MachineMode is the accelerator's operating mode.
type MachineMode int

const (
	ModeBeam MachineMode = iota
	ModeInject
	ModeAccPhy
	ModeDown
)

var machineModeLabels = []string{"Beam", "Inject", "AccPhy", "Down"}

func (m MachineMode) String() string {
	if m >= 0 && int(m) < len(machineModeLabels) {
		return machineModeLabels[m]
	}
	return "unknown"
}

// InjectionPhase is the sub-state of an injection cycle. It is meaningful
// only while the machine mode is Inject.
type InjectionPhase int

const (
	PhaseNone InjectionPhase = iota
	PhaseBeamlineWait
	PhaseInjecting
)

var injectionPhaseLabels = []string{"None", "BeamlineWait", "Injecting"}

func (p InjectionPhase) String() string {
	if p >= 0 && int(p) < len(injectionPhaseLabels) {
		return injectionPhaseLabels[p]
	}
	return "unknown"
}

// AlarmLevel reports whether the machine is in an unacknowledged Down state.
type AlarmLevel int

const (
	AlarmOK AlarmLevel = iota
	AlarmWarning
	AlarmError
)

var alarmLevelLabels = []string{"OK", "Warning", "Error"}

func (a AlarmLevel) String() string {
	if a >= 0 && int(a) < len(alarmLevelLabels) {
		return alarmLevelLabels[a]
	}
	return "unknown"
}

// registerVariables installs the control variable table with the documented
// defaults. The engine is the sole writer of beamCurrentAvg and alarmLevel.
func registerVariables(store *pv.Store) {
	store.Register(pv.Definition{
		Name:     VarBeamCurrentAvg,
		Kind:     pv.KindFloat,
		Unit:     "mA",
		Doc:      "Beam current averaged over 1 s",
		Min:      0,
		Max:      500,
		Default:  pv.Float(500.0),
		ReadOnly: true,
	})
	store.Register(pv.Definition{
		Name:    VarBeamCurrentAvgMin,
		Kind:    pv.KindFloat,
		Unit:    "mA",
		Doc:     "Minimum current above which frequent fill is possible",
		Min:     0,
		Max:     100,
		Default: pv.Float(50.0),
	})
	store.Register(pv.Definition{
		Name:    VarBeamCurrentDesired,
		Kind:    pv.KindFloat,
		Unit:    "mA",
		Doc:     "Target current for injection",
		Min:     0,
		Max:     500,
		Default: pv.Float(500.0),
	})
	store.Register(pv.Definition{
		Name:    VarMachineMode,
		Kind:    pv.KindEnum,
		Doc:     "Machine operating mode",
		Labels:  machineModeLabels,
		Default: pv.Enum(int(ModeBeam)),
	})
	store.Register(pv.Definition{
		Name:    VarInjectionPhase,
		Kind:    pv.KindEnum,
		Doc:     "Injection cycle sub-phase",
		Labels:  injectionPhaseLabels,
		Default: pv.Enum(int(PhaseNone)),
	})
	store.Register(pv.Definition{
		Name:     VarAlarmLevel,
		Kind:     pv.KindEnum,
		Doc:      "Alarm status for unexpected mode changes",
		Labels:   alarmLevelLabels,
		Default:  pv.Enum(int(AlarmOK)),
		ReadOnly: true,
	})
	store.Register(pv.Definition{
		Name:    VarDebugInjectingOverride,
		Kind:    pv.KindBool,
		Doc:     "Force the injecting flag for manual control",
		Default: pv.Bool(false),
	})
}
