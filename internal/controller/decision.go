package controller

// Decision is the action chosen for one evaluation cycle.
type Decision string

const (
	DecisionNoAction          Decision = "no_action"
	DecisionScaleUp           Decision = "scale_up"
	DecisionScaleDown         Decision = "scale_down"
	DecisionPreventiveScaleUp Decision = "preventive_scale_up"
	DecisionGradualScaleDown  Decision = "gradual_scale_down"
)

// Reason names the rule that produced a decision.
type Reason string

const (
	ReasonHighLoad             Reason = "high_load"
	ReasonLowLoad              Reason = "low_load"
	ReasonIncreasingTrend      Reason = "increasing_trend"
	ReasonLoadSpike            Reason = "load_spike"
	ReasonPrediction           Reason = "prediction"
	ReasonResourceOptimization Reason = "resource_optimization"
)

// describe renders the operator-facing text for a reason.
func (r Reason) describe() string {
	switch r {
	case ReasonHighLoad:
		return "combined load above scale-up threshold"
	case ReasonLowLoad:
		return "combined load below scale-down threshold"
	case ReasonIncreasingTrend:
		return "load trending upward"
	case ReasonLoadSpike:
		return "load spiking"
	case ReasonPrediction:
		return "forecast predicts high load"
	case ReasonResourceOptimization:
		return "idle capacity with empty queue"
	default:
		return string(r)
	}
}

// Thresholds the ordered decision rules compare against. The scale-up and
// scale-down gates come from each pool's policy; these are the fixed
// heuristic bounds.
const (
	forecastLoadGate       = 0.8
	forecastConfidenceGate = 0.7
	increasingLoadGate     = 0.6
	spikeLoadGate          = 0.7
	idleUtilizationGate    = 0.5
)
