package broker

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/ksid/internal/core/domain"
)

type tokenCounters struct {
	input  *xsync.Counter
	output *xsync.Counter
	calls  *xsync.Counter
}

func newTokenCounters() *tokenCounters {
	return &tokenCounters{
		input:  xsync.NewCounter(),
		output: xsync.NewCounter(),
		calls:  xsync.NewCounter(),
	}
}

// tokenCollector aggregates provider-reported token usage per model and per
// originator for the completion:token_usage surface
type tokenCollector struct {
	byModel      *xsync.Map[string, *tokenCounters]
	byOriginator *xsync.Map[string, *tokenCounters]
	totalInput   *xsync.Counter
	totalOutput  *xsync.Counter
}

func newTokenCollector() *tokenCollector {
	return &tokenCollector{
		byModel:      xsync.NewMap[string, *tokenCounters](),
		byOriginator: xsync.NewMap[string, *tokenCounters](),
		totalInput:   xsync.NewCounter(),
		totalOutput:  xsync.NewCounter(),
	}
}

func (tc *tokenCollector) Record(usage *domain.TokenUsage) {
	if usage == nil {
		return
	}

	tc.totalInput.Add(usage.InputTokens)
	tc.totalOutput.Add(usage.OutputTokens)

	if usage.Model != "" {
		counters, _ := tc.byModel.LoadOrCompute(usage.Model, func() (*tokenCounters, bool) {
			return newTokenCounters(), false
		})
		counters.input.Add(usage.InputTokens)
		counters.output.Add(usage.OutputTokens)
		counters.calls.Inc()
	}

	if usage.OriginatorID != "" {
		counters, _ := tc.byOriginator.LoadOrCompute(usage.OriginatorID, func() (*tokenCounters, bool) {
			return newTokenCounters(), false
		})
		counters.input.Add(usage.InputTokens)
		counters.output.Add(usage.OutputTokens)
		counters.calls.Inc()
	}
}

func (tc *tokenCollector) ForModel(model string) map[string]any {
	counters, ok := tc.byModel.Load(model)
	if !ok {
		return map[string]any{"model": model, "input_tokens": int64(0), "output_tokens": int64(0), "calls": int64(0)}
	}
	return map[string]any{
		"model":         model,
		"input_tokens":  counters.input.Value(),
		"output_tokens": counters.output.Value(),
		"calls":         counters.calls.Value(),
	}
}

func (tc *tokenCollector) ForOriginator(agentID string) map[string]any {
	counters, ok := tc.byOriginator.Load(agentID)
	if !ok {
		return map[string]any{"agent_id": agentID, "input_tokens": int64(0), "output_tokens": int64(0), "calls": int64(0)}
	}
	return map[string]any{
		"agent_id":      agentID,
		"input_tokens":  counters.input.Value(),
		"output_tokens": counters.output.Value(),
		"calls":         counters.calls.Value(),
	}
}

func (tc *tokenCollector) Totals() map[string]any {
	models := make(map[string]any)
	tc.byModel.Range(func(model string, counters *tokenCounters) bool {
		models[model] = map[string]any{
			"input_tokens":  counters.input.Value(),
			"output_tokens": counters.output.Value(),
			"calls":         counters.calls.Value(),
		}
		return true
	})

	return map[string]any{
		"total_input_tokens":  tc.totalInput.Value(),
		"total_output_tokens": tc.totalOutput.Value(),
		"models":              models,
	}
}
