package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// Granularity selects the trend bucket size.
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ParseGranularity returns the Granularity for s, or false if s is not one
// of hourly, daily, weekly, monthly.
func ParseGranularity(s string) (Granularity, bool) {
	switch Granularity(s) {
	case Hourly, Daily, Weekly, Monthly:
		return Granularity(s), true
	}
	return "", false
}

// TrendPoint is one bucket of session activity.
type TrendPoint struct {
	Bucket      time.Time `json:"bucket"`
	Label       string    `json:"label"`
	Records     int       `json:"records"`
	Suspicious  int       `json:"suspicious"`
	VolumeBytes int64     `json:"volume_bytes"`
}

// Trend buckets the window's records by start time. Buckets with no
// activity are omitted; points come back in chronological order.
func (a *Aggregator) Trend(ctx context.Context, w Window, g Granularity) ([]TrendPoint, error) {
	w = w.resolve(a.now())

	recs, err := a.store.ListRecords(ctx, w.recordFilter())
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list records for trend")
	}

	byBucket := make(map[time.Time]*TrendPoint)
	for _, rec := range recs {
		bucket := truncateToBucket(rec.StartTime, g)
		point, ok := byBucket[bucket]
		if !ok {
			point = &TrendPoint{Bucket: bucket, Label: bucketLabel(bucket, g)}
			byBucket[bucket] = point
		}
		point.Records++
		if rec.Suspicious {
			point.Suspicious++
		}
		point.VolumeBytes += rec.TotalBytes
	}

	points := make([]TrendPoint, 0, len(byBucket))
	for _, point := range byBucket {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bucket.Before(points[j].Bucket) })
	return points, nil
}

// truncateToBucket maps t to the start of its bucket in UTC. Weeks start on
// Monday.
func truncateToBucket(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case Hourly:
		return t.Truncate(time.Hour)
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func bucketLabel(bucket time.Time, g Granularity) string {
	switch g {
	case Hourly:
		return bucket.Format("2006-01-02 15:00")
	case Weekly:
		year, week := bucket.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Monthly:
		return bucket.Format("2006-01")
	default:
		return bucket.Format("2006-01-02")
	}
}
