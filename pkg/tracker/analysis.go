package tracker

import (
	"context"
	"fmt"
	"sort"

	"github.com/0xmhha/session-engine/pkg/session"
)

// topSequenceCount caps how many (from -> to) sequences Analyze reports.
const topSequenceCount = 5

// Analyze implements Tracker.Analyze.
func (t *stateTracker) Analyze() (Analysis, error) {
	transitions, err := t.records.AllTransitions()
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to read transitions: %w", err)
	}
	events, err := t.records.AllEvents()
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to read events: %w", err)
	}

	analysis := Analysis{
		TopSequences:    topSequences(transitions),
		AvgDwellSeconds: avgDwell(transitions),
		EventFrequency:  make(map[EventType]int, len(events)),
		TransitionCount: len(transitions),
	}
	for _, e := range events {
		analysis.EventFrequency[e.Type]++
	}
	return analysis, nil
}

// topSequences counts (from -> to) pairs and returns the most frequent
// ones, ties broken by sequence name for stable output.
func topSequences(transitions []Transition) []SequenceCount {
	seen := make(map[[2]session.Status]int)
	for _, tr := range transitions {
		seen[[2]session.Status{tr.From, tr.To}]++
	}

	sequences := make([]SequenceCount, 0, len(seen))
	for pair, count := range seen {
		sequences = append(sequences, SequenceCount{From: pair[0], To: pair[1], Count: count})
	}

	sort.Slice(sequences, func(i, j int) bool {
		if sequences[i].Count != sequences[j].Count {
			return sequences[i].Count > sequences[j].Count
		}
		if sequences[i].From != sequences[j].From {
			return sequences[i].From < sequences[j].From
		}
		return sequences[i].To < sequences[j].To
	})

	if len(sequences) > topSequenceCount {
		sequences = sequences[:topSequenceCount]
	}
	return sequences
}

// avgDwell averages the recorded dwell time per departed status. The
// creation pseudo-status is excluded.
func avgDwell(transitions []Transition) map[session.Status]float64 {
	totals := make(map[session.Status]float64)
	counts := make(map[session.Status]int)
	for _, tr := range transitions {
		if tr.From == NoStatus {
			continue
		}
		totals[tr.From] += tr.DurationSeconds
		counts[tr.From]++
	}

	avg := make(map[session.Status]float64, len(totals))
	for status, total := range totals {
		avg[status] = total / float64(counts[status])
	}
	return avg
}

// PredictNext implements Tracker.PredictNext.
//
// The prediction is purely frequency based: the most common target status
// observed out of the session's current status, across all sessions.
func (t *stateTracker) PredictNext(ctx context.Context, sessionID string) (Prediction, error) {
	sess, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to load session: %w", err)
	}
	current := sess.Status()

	transitions, err := t.records.AllTransitions()
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to read transitions: %w", err)
	}

	targets := make(map[session.Status]int)
	total := 0
	for _, tr := range transitions {
		if tr.From != current {
			continue
		}
		targets[tr.To]++
		total++
	}
	if total == 0 {
		return Prediction{}, fmt.Errorf("%w: status %s", ErrNoHistory, current)
	}

	var best session.Status
	bestCount := 0
	for status, count := range targets {
		if count > bestCount || (count == bestCount && status < best) {
			best = status
			bestCount = count
		}
	}

	return Prediction{
		SessionID:  sessionID,
		Current:    current,
		Next:       best,
		Confidence: float64(bestCount) / float64(total),
	}, nil
}
