package api

import (
	"fmt"
	"sort"
	"time"

	"pulseboard/domain"
)

const (
	staleAfter      = 7 * 24 * time.Hour
	trendWindowDays = 7
)

// buildInsights derives board analysis from the task collection. The output
// depends only on the tasks and the reference time, so repeated calls over
// unchanged data produce identical payloads.
func buildInsights(tasks []domain.Task, now time.Time) []domain.Insight {
	sorted := make([]domain.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	insights := []domain.Insight{}
	if w, ok := burnoutWarning(sorted, now); ok {
		insights = append(insights, w)
	}
	insights = append(insights, productivityTrend(sorted, now))
	insights = append(insights, completionProbabilities(sorted)...)
	if s, ok := oldestTodoSuggestion(sorted); ok {
		insights = append(insights, s)
	}
	return insights
}

// burnoutWarning fires when in-progress tasks have sat untouched for over a
// week.
func burnoutWarning(tasks []domain.Task, now time.Time) (domain.BurnoutWarning, bool) {
	staleCutoff := now.Add(-staleAfter).UnixMilli()
	stale := 0
	for _, t := range tasks {
		if t.Status == domain.StatusInProgress && t.UpdatedAt < staleCutoff {
			stale++
		}
	}
	if stale == 0 {
		return domain.BurnoutWarning{}, false
	}
	severity := "low"
	if stale >= 3 {
		severity = "high"
	}
	return domain.BurnoutWarning{
		Severity:     severity,
		Message:      fmt.Sprintf("%d in-progress tasks have not moved in over a week", stale),
		OverdueCount: stale,
	}, true
}

// productivityTrend compares completions in the current window against the
// previous one.
func productivityTrend(tasks []domain.Task, now time.Time) domain.ProductivityTrend {
	window := time.Duration(trendWindowDays) * 24 * time.Hour
	currentStart := now.Add(-window).UnixMilli()
	previousStart := now.Add(-2 * window).UnixMilli()

	current, previous := 0, 0
	for _, t := range tasks {
		if t.Status != domain.StatusDone {
			continue
		}
		switch {
		case t.UpdatedAt >= currentStart:
			current++
		case t.UpdatedAt >= previousStart:
			previous++
		}
	}

	trend := domain.ProductivityTrend{Direction: "flat", WindowDays: trendWindowDays}
	switch {
	case current > previous:
		trend.Direction = "up"
	case current < previous:
		trend.Direction = "down"
	}
	if previous > 0 {
		trend.DeltaPercent = float64(current-previous) / float64(previous) * 100
	} else if current > 0 {
		trend.DeltaPercent = 100
	}
	return trend
}

// completionProbabilities scores every unfinished task by its priority.
func completionProbabilities(tasks []domain.Task) []domain.Insight {
	out := []domain.Insight{}
	for _, t := range tasks {
		if t.Status == domain.StatusDone {
			continue
		}
		p := 0.5
		switch t.Priority {
		case domain.PriorityHigh:
			p = 0.75
		case domain.PriorityLow:
			p = 0.35
		}
		if t.Status == domain.StatusInProgress {
			p += 0.15
		}
		out = append(out, domain.CompletionProbability{TaskID: t.ID, Probability: p})
	}
	return out
}

func oldestTodoSuggestion(tasks []domain.Task) (domain.Suggestion, bool) {
	for _, t := range tasks {
		if t.Status == domain.StatusTodo {
			return domain.Suggestion{
				TaskID: t.ID,
				Text:   fmt.Sprintf("%q is your oldest open task; consider starting or dropping it", t.Title),
			}, true
		}
	}
	return domain.Suggestion{}, false
}
