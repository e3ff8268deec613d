// Package inference wires decoding, skin screening, preprocessing and the
// classifier runtime into a guarded decision pipeline.
package inference

import "github.com/example/mediscan/internal/classifier"

// Non-diagnostic outcomes. Any other outcome is a label from the LabelSet.
const (
	OutcomeInvalid   = "invalid"
	OutcomeUncertain = "uncertain"
)

// Gate names the policy step that produced a decision.
type Gate string

const (
	GateNonSkin       Gate = "non_skin"
	GateLowConfidence Gate = "low_confidence"
	GateLowSkin       Gate = "low_skin"
	GateAccepted      Gate = "accepted"
)

// Decision is the final, immutable result for one image.
type Decision struct {
	Outcome    string                 `json:"label"`
	Confidence float64                `json:"probability"`
	TopK       []classifier.TopKEntry `json:"topk"`
	SkinRatio  float64                `json:"skin_ratio"`
	Gate       Gate                   `json:"gate"`
}

// IsDiagnosis reports whether the outcome is a class label.
func (d Decision) IsDiagnosis() bool {
	return d.Gate == GateAccepted
}

// OutcomeKind groups outcomes into invalid, uncertain and diagnosis.
func (d Decision) OutcomeKind() string {
	if d.IsDiagnosis() {
		return "diagnosis"
	}
	return d.Outcome
}
