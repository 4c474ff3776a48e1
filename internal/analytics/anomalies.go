package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-intel/cdrscope/internal/model"
	"github.com/lattice-intel/cdrscope/internal/store"
)

const topSubjectLimit = 10

// ReasonStat summarizes one detection reason's events.
type ReasonStat struct {
	Code     model.ReasonCode `json:"code"`
	Count    int              `json:"count"`
	MeanRisk float64          `json:"mean_risk"`
}

// SubjectStat summarizes one subscriber's events.
type SubjectStat struct {
	SubscriberNumber string  `json:"subscriber_number"`
	Events           int     `json:"events"`
	MeanRisk         float64 `json:"mean_risk"`
}

// DayCount is events-per-day for the anomaly trend.
type DayCount struct {
	Day    time.Time `json:"day"`
	Events int       `json:"events"`
}

// AnomalyReport is the anomaly analytics view for one window.
type AnomalyReport struct {
	Window Window `json:"window"`
	Total  int    `json:"total"`

	ByReason   []ReasonStat                `json:"by_reason"`
	BySeverity map[model.Severity]int      `json:"by_severity"`
	ByStatus   map[model.AnomalyStatus]int `json:"by_status"`

	Daily       []DayCount    `json:"daily"`
	TopSubjects []SubjectStat `json:"top_subjects"`
}

// Anomalies builds the anomaly report. An empty store yields a zero-valued
// report with empty (non-nil) maps.
func (a *Aggregator) Anomalies(ctx context.Context, w Window) (*AnomalyReport, error) {
	w = w.resolve(a.now())

	evs, err := a.store.ListEvents(ctx, store.EventFilter{From: w.From, To: w.To})
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list events")
	}

	report := &AnomalyReport{
		Window:     w,
		Total:      len(evs),
		BySeverity: make(map[model.Severity]int),
		ByStatus:   make(map[model.AnomalyStatus]int),
	}

	type riskAccum struct {
		count int
		risk  float64
	}
	byReason := make(map[model.ReasonCode]*riskAccum)
	bySubject := make(map[string]*riskAccum)
	byDay := make(map[time.Time]int)

	for _, ev := range evs {
		report.BySeverity[ev.Severity]++
		report.ByStatus[ev.Status]++

		r, ok := byReason[ev.ReasonCode]
		if !ok {
			r = &riskAccum{}
			byReason[ev.ReasonCode] = r
		}
		r.count++
		r.risk += ev.RiskScore

		s, ok := bySubject[ev.SubscriberNumber]
		if !ok {
			s = &riskAccum{}
			bySubject[ev.SubscriberNumber] = s
		}
		s.count++
		s.risk += ev.RiskScore

		day := ev.FirstSeen.UTC()
		byDay[time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)]++
	}

	for code, acc := range byReason {
		report.ByReason = append(report.ByReason, ReasonStat{
			Code:     code,
			Count:    acc.count,
			MeanRisk: acc.risk / float64(acc.count),
		})
	}
	sort.Slice(report.ByReason, func(i, j int) bool {
		if report.ByReason[i].Count != report.ByReason[j].Count {
			return report.ByReason[i].Count > report.ByReason[j].Count
		}
		return report.ByReason[i].Code < report.ByReason[j].Code
	})

	for day, count := range byDay {
		report.Daily = append(report.Daily, DayCount{Day: day, Events: count})
	}
	sort.Slice(report.Daily, func(i, j int) bool { return report.Daily[i].Day.Before(report.Daily[j].Day) })

	for number, acc := range bySubject {
		report.TopSubjects = append(report.TopSubjects, SubjectStat{
			SubscriberNumber: number,
			Events:           acc.count,
			MeanRisk:         acc.risk / float64(acc.count),
		})
	}
	sort.Slice(report.TopSubjects, func(i, j int) bool {
		a, b := report.TopSubjects[i], report.TopSubjects[j]
		if a.Events != b.Events {
			return a.Events > b.Events
		}
		if a.MeanRisk != b.MeanRisk {
			return a.MeanRisk > b.MeanRisk
		}
		return a.SubscriberNumber < b.SubscriberNumber
	})
	if len(report.TopSubjects) > topSubjectLimit {
		report.TopSubjects = report.TopSubjects[:topSubjectLimit]
	}

	return report, nil
}
