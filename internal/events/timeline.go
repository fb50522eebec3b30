package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// DefaultRange is used for unknown timeline ranges.
const DefaultRange = "24h"

type timelineRange struct {
	span  time.Duration
	width time.Duration
}

var timelineRanges = map[string]timelineRange{
	"1h":  {span: time.Hour, width: 5 * time.Minute},
	"6h":  {span: 6 * time.Hour, width: 15 * time.Minute},
	"24h": {span: 24 * time.Hour, width: 60 * time.Minute},
	"7d":  {span: 7 * 24 * time.Hour, width: 360 * time.Minute},
	"30d": {span: 30 * 24 * time.Hour, width: 1440 * time.Minute},
}

// Timeline counts events in contiguous half-open buckets from now-range up to
// now. The last bucket is usually partial. level may be empty.
func (s *Service) Timeline(ctx context.Context, projectIDs []uuid.UUID, rangeName string, level models.Level) ([]models.TimelineBucket, error) {
	r, ok := timelineRanges[rangeName]
	if !ok {
		r = timelineRanges[DefaultRange]
	}
	now := s.now().UTC()
	since := now.Add(-r.span)

	buckets := make([]models.TimelineBucket, 0, int(r.span/r.width))
	for start := since; start.Before(now); start = start.Add(r.width) {
		buckets = append(buckets, models.TimelineBucket{Start: start})
	}

	counts, err := s.store.EventTimeline(ctx, store.EventFilter{
		ProjectIDs: projectIDs,
		Level:      level,
		Since:      since,
		Until:      now,
	}, r.width)
	if err != nil {
		return nil, err
	}
	for idx, n := range counts {
		if idx >= 0 && idx < len(buckets) {
			buckets[idx].Count = n
		}
	}
	return buckets, nil
}
