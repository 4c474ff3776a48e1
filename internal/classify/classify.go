// Package classify implements the single-record anomaly rule engine.
//
// The engine is stateless and pure: it inspects one normalized record and
// never reads the store. Rules are evaluated independently, so a record may
// trip several reasons at once. Taxonomy members that need cross-record
// state (MULTIPLE_DEVICES, LOCATION_ANOMALY, ...) are catalog entries only;
// detectors for them would consume a sliding window of prior records for the
// same subject and plug in alongside the rules below.
package classify

import (
	"github.com/lattice-intel/cdrscope/internal/model"
)

// Result is the classifier verdict for one record.
type Result struct {
	Suspicious bool               `json:"suspicious"`
	Reasons    []model.ReasonCode `json:"reasons,omitempty"`
	Severity   model.Severity     `json:"severity,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	RiskScore  float64            `json:"risk_score,omitempty"`
}

// Engine evaluates classification rules against normalized records.
type Engine struct {
	th Thresholds
}

// New creates an engine with the given thresholds.
func New(th Thresholds) *Engine {
	return &Engine{th: th}
}

type ruleFunc func(*model.DetailRecord) (model.ReasonCode, bool)

// Classify runs every rule against a normalized record and aggregates the
// verdict. Severity is the highest severity among triggered reasons;
// confidence is fixed for rule-based detections.
func (e *Engine) Classify(rec *model.DetailRecord) Result {
	rules := []ruleFunc{
		e.ruleNightActivity,
		e.ruleDataVolume,
		e.ruleShortDuration,
	}

	var res Result
	for _, rule := range rules {
		code, hit := rule(rec)
		if !hit {
			continue
		}
		res.Reasons = append(res.Reasons, code)

		severity := model.SeverityMedium
		if meta, ok := model.ReasonInfo(code); ok {
			severity = meta.Severity
		}
		res.Severity = model.MaxSeverity(res.Severity, severity)
	}

	res.Suspicious = len(res.Reasons) > 0
	if res.Suspicious {
		res.Confidence = e.th.Confidence
		res.RiskScore = model.RiskScore(res.Severity, res.Confidence)
	}
	return res
}

// Apply classifies rec and writes the verdict onto its derived fields.
func (e *Engine) Apply(rec *model.DetailRecord) Result {
	res := e.Classify(rec)
	rec.Suspicious = res.Suspicious
	rec.Reasons = res.Reasons
	rec.Severity = res.Severity
	rec.Confidence = res.Confidence
	rec.RiskScore = res.RiskScore
	return res
}

// ruleNightActivity flags sessions starting in the night window, inclusive
// at both ends. A start hour above the end hour wraps past midnight; the
// default window 22-6 covers 22:00 through 06:59.
func (e *Engine) ruleNightActivity(rec *model.DetailRecord) (model.ReasonCode, bool) {
	hour := rec.StartTime.Hour()
	start, end := e.th.NightStartHour, e.th.NightEndHour

	inWindow := hour >= start && hour <= end
	if start > end {
		inWindow = hour >= start || hour <= end
	}
	if inWindow {
		return model.ReasonHighNightActivity, true
	}
	return "", false
}

// ruleDataVolume flags sessions whose total transfer exceeds the volume
// threshold. The boundary is exclusive: exactly the threshold is clean.
func (e *Engine) ruleDataVolume(rec *model.DetailRecord) (model.ReasonCode, bool) {
	if rec.TotalBytes > e.th.VolumeBytes {
		return model.ReasonUnusualDataVolume, true
	}
	return "", false
}

// ruleShortDuration flags sessions lasting under the short-duration cutoff.
func (e *Engine) ruleShortDuration(rec *model.DetailRecord) (model.ReasonCode, bool) {
	if rec.DurationMs < e.th.ShortDurationMs {
		return model.ReasonShortDurationFreq, true
	}
	return "", false
}
