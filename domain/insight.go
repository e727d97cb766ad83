package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// InsightKind tags the concrete variant carried by an insight envelope.
type InsightKind string

const (
	InsightBurnoutWarning        InsightKind = "burnout-warning"
	InsightProductivityTrend     InsightKind = "productivity-trend"
	InsightCompletionProbability InsightKind = "completion-probability"
	InsightSuggestion            InsightKind = "suggestion"
)

// Insight is implemented by every analysis variant. Payloads are decoded at
// the transport boundary into exactly one of the concrete types below; there
// is no untyped passthrough.
type Insight interface {
	Kind() InsightKind
}

// BurnoutWarning flags an unhealthy share of stale in-progress work.
type BurnoutWarning struct {
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	OverdueCount int    `json:"overdueCount"`
}

func (BurnoutWarning) Kind() InsightKind { return InsightBurnoutWarning }

// ProductivityTrend summarizes throughput movement over a trailing window.
type ProductivityTrend struct {
	Direction    string  `json:"direction"`
	DeltaPercent float64 `json:"deltaPercent"`
	WindowDays   int     `json:"windowDays"`
}

func (ProductivityTrend) Kind() InsightKind { return InsightProductivityTrend }

// CompletionProbability estimates the chance a task finishes in its window.
type CompletionProbability struct {
	TaskID      string  `json:"taskId"`
	Probability float64 `json:"probability"`
}

func (CompletionProbability) Kind() InsightKind { return InsightCompletionProbability }

// Suggestion is a free-form recommendation, optionally tied to a task.
type Suggestion struct {
	TaskID string `json:"taskId,omitempty"`
	Text   string `json:"text"`
}

func (Suggestion) Kind() InsightKind { return InsightSuggestion }

type insightEnvelope struct {
	Kind InsightKind            `json:"kind"`
	Data sonic.NoCopyRawMessage `json:"data"`
}

// EncodeInsights serializes insights as kind-tagged envelopes.
func EncodeInsights(insights []Insight) ([]byte, error) {
	envs := make([]insightEnvelope, 0, len(insights))
	for _, in := range insights {
		data, err := sonic.Marshal(in)
		if err != nil {
			return nil, err
		}
		envs = append(envs, insightEnvelope{Kind: in.Kind(), Data: data})
	}
	return sonic.Marshal(envs)
}

// DecodeInsights parses kind-tagged envelopes, rejecting unknown kinds and
// malformed variant payloads.
func DecodeInsights(payload []byte) ([]Insight, error) {
	var envs []insightEnvelope
	if err := sonic.Unmarshal(payload, &envs); err != nil {
		return nil, err
	}
	out := make([]Insight, 0, len(envs))
	for _, env := range envs {
		in, err := decodeInsight(env)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func decodeInsight(env insightEnvelope) (Insight, error) {
	switch env.Kind {
	case InsightBurnoutWarning:
		var v BurnoutWarning
		if err := sonic.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		if v.Message == "" {
			return nil, &ValidationError{Field: "message", Reason: "must not be empty"}
		}
		return v, nil
	case InsightProductivityTrend:
		var v ProductivityTrend
		if err := sonic.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		if v.Direction != "up" && v.Direction != "down" && v.Direction != "flat" {
			return nil, &ValidationError{Field: "direction", Reason: "unknown value"}
		}
		return v, nil
	case InsightCompletionProbability:
		var v CompletionProbability
		if err := sonic.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		if v.Probability < 0 || v.Probability > 1 {
			return nil, &ValidationError{Field: "probability", Reason: "out of range"}
		}
		return v, nil
	case InsightSuggestion:
		var v Suggestion
		if err := sonic.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		if v.Text == "" {
			return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown insight kind %q", env.Kind)
}
