package inference

import "github.com/example/mediscan/internal/classifier"

// Thresholds holds every constant the guards may consult.
//
// SkinRatioLow and ConfidenceStrong are declared alongside the others but no
// gate reads them; the low-skin gate compares against LowSkinGate instead.
// Whether it should use SkinRatioLow, and require ConfidenceStrong, is an
// open product question.
type Thresholds struct {
	SkinRatioMin        float64 `mapstructure:"skin_ratio_min"`
	SkinRatioLow        float64 `mapstructure:"skin_ratio_low"`
	ConfidenceUncertain float64 `mapstructure:"confidence_uncertain"`
	ConfidenceStrong    float64 `mapstructure:"confidence_strong"`
	LowSkinGate         float64 `mapstructure:"low_skin_gate"`
}

// DefaultThresholds returns the thresholds the deployed model was tuned with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SkinRatioMin:        0.03,
		SkinRatioLow:        0.20,
		ConfidenceUncertain: 0.70,
		ConfidenceStrong:    0.90,
		LowSkinGate:         0.30,
	}
}

// Policy turns the skin ratio and ranked predictions into a Decision.
type Policy struct {
	Thresholds Thresholds
}

// gate inspects a request and either returns a terminal decision or lets
// the next gate run.
type gate func(t Thresholds, skinRatio float64, top []classifier.TopKEntry) (Decision, bool)

// Screen runs the gate that is checked before the classifier. When it
// returns true the classifier must not be invoked.
func (p Policy) Screen(skinRatio float64) (Decision, bool) {
	return nonSkinGate(p.Thresholds, skinRatio, nil)
}

// Decide runs the post-classification gates in order and falls back to the
// top-1 label.
func (p Policy) Decide(skinRatio float64, top []classifier.TopKEntry) Decision {
	for _, g := range []gate{lowConfidenceGate, lowSkinGate} {
		if d, done := g(p.Thresholds, skinRatio, top); done {
			return d
		}
	}
	return Decision{
		Outcome:    top[0].Label,
		Confidence: top[0].Probability,
		TopK:       top,
		SkinRatio:  skinRatio,
		Gate:       GateAccepted,
	}
}

func nonSkinGate(t Thresholds, skinRatio float64, _ []classifier.TopKEntry) (Decision, bool) {
	if skinRatio >= t.SkinRatioMin {
		return Decision{}, false
	}
	return Decision{
		Outcome:   OutcomeInvalid,
		TopK:      []classifier.TopKEntry{},
		SkinRatio: skinRatio,
		Gate:      GateNonSkin,
	}, true
}

func lowConfidenceGate(t Thresholds, skinRatio float64, top []classifier.TopKEntry) (Decision, bool) {
	if len(top) == 0 {
		return Decision{Outcome: OutcomeUncertain, TopK: []classifier.TopKEntry{}, SkinRatio: skinRatio, Gate: GateLowConfidence}, true
	}
	if top[0].Probability >= t.ConfidenceUncertain {
		return Decision{}, false
	}
	return Decision{
		Outcome:    OutcomeUncertain,
		Confidence: top[0].Probability,
		TopK:       top,
		SkinRatio:  skinRatio,
		Gate:       GateLowConfidence,
	}, true
}

func lowSkinGate(t Thresholds, skinRatio float64, top []classifier.TopKEntry) (Decision, bool) {
	if skinRatio >= t.LowSkinGate {
		return Decision{}, false
	}
	return Decision{
		Outcome:    OutcomeInvalid,
		Confidence: top[0].Probability,
		TopK:       top,
		SkinRatio:  skinRatio,
		Gate:       GateLowSkin,
	}, true
}
