package model

import "fmt"

// ReasonCode identifies one anomaly-detection trigger.
type ReasonCode string

const (
	ReasonHighNightActivity    ReasonCode = "HIGH_NIGHT_ACTIVITY"
	ReasonUnusualDataVolume    ReasonCode = "UNUSUAL_DATA_VOLUME"
	ReasonShortDurationFreq    ReasonCode = "SHORT_DURATION_FREQUENT"
	ReasonMultipleDevices      ReasonCode = "MULTIPLE_DEVICES"
	ReasonLocationAnomaly      ReasonCode = "LOCATION_ANOMALY"
	ReasonForeignIPComm        ReasonCode = "FOREIGN_IP_COMMUNICATION"
	ReasonBurstCommunication   ReasonCode = "BURST_COMMUNICATION"
	ReasonPatternDeviation     ReasonCode = "PATTERN_DEVIATION"
	ReasonEncryptionDetected   ReasonCode = "ENCRYPTION_DETECTED"
)

// AllReasonCodes lists every taxonomy member, detected or not. Codes beyond
// the first three need cross-record state and are reserved for detectors
// that consume a sliding window of prior records.
var AllReasonCodes = []ReasonCode{
	ReasonHighNightActivity,
	ReasonUnusualDataVolume,
	ReasonShortDurationFreq,
	ReasonMultipleDevices,
	ReasonLocationAnomaly,
	ReasonForeignIPComm,
	ReasonBurstCommunication,
	ReasonPatternDeviation,
	ReasonEncryptionDetected,
}

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityWeights maps each severity to its scalar weight for risk scoring.
var severityWeights = map[Severity]float64{
	SeverityLow:      25,
	SeverityMedium:   50,
	SeverityHigh:     75,
	SeverityCritical: 100,
}

// SeverityWeight returns the scalar weight for a severity. Unknown severities
// weigh as MEDIUM.
func SeverityWeight(s Severity) float64 {
	if w, ok := severityWeights[s]; ok {
		return w
	}
	return severityWeights[SeverityMedium]
}

// severityRank orders severities for max-of comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// RiskScore computes severity weight × confidence. It is a pure function of
// its inputs.
func RiskScore(s Severity, confidence float64) float64 {
	return SeverityWeight(s) * confidence
}

// ReasonMeta describes one reason code: its default severity and a
// human-readable description template.
type ReasonMeta struct {
	Severity    Severity
	Description string
}

// reasonCatalog maps every taxonomy member to its metadata. Reasons with no
// explicit severity override default to MEDIUM.
var reasonCatalog = map[ReasonCode]ReasonMeta{
	ReasonHighNightActivity:  {SeverityMedium, "session started during the 22:00-06:00 night window"},
	ReasonUnusualDataVolume:  {SeverityHigh, "session transferred more than 10 MiB"},
	ReasonShortDurationFreq:  {SeverityHigh, "session lasted under 30 seconds"},
	ReasonMultipleDevices:    {SeverityMedium, "subscriber number observed on multiple device identities"},
	ReasonLocationAnomaly:    {SeverityMedium, "implausible movement between consecutive sessions"},
	ReasonForeignIPComm:      {SeverityMedium, "communication with an address outside the home network"},
	ReasonBurstCommunication: {SeverityMedium, "burst of sessions in a short interval"},
	ReasonPatternDeviation:   {SeverityMedium, "deviation from the subscriber's established pattern"},
	ReasonEncryptionDetected: {SeverityMedium, "encrypted-tunnel traffic signature"},
}

// ReasonInfo returns the catalog entry for a reason code.
func ReasonInfo(code ReasonCode) (ReasonMeta, bool) {
	m, ok := reasonCatalog[code]
	return m, ok
}

func init() {
	// Every taxonomy member must have a catalog entry. A silent fallback
	// here would hide a taxonomy/catalog drift until query time.
	for _, code := range AllReasonCodes {
		if _, ok := reasonCatalog[code]; !ok {
			panic(fmt.Sprintf("model: reason catalog missing entry for %s", code))
		}
	}
}
