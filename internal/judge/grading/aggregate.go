package grading

import "arenaoj/internal/judge/model"

// priority lists verdicts from most to least severe.
var priority = []model.Verdict{
	model.VerdictCompilationError,
	model.VerdictRuntimeError,
	model.VerdictTimeLimitExceeded,
	model.VerdictMemoryLimitExceeded,
	model.VerdictWrongAnswer,
}

// Aggregate returns the overall verdict of a per-test verdict list.
// It depends only on which verdicts are present, not on their order.
func Aggregate(verdicts []model.Verdict) model.Verdict {
	present := make(map[model.Verdict]bool, len(verdicts))
	for _, v := range verdicts {
		present[v] = true
	}
	for _, v := range priority {
		if present[v] {
			return v
		}
	}
	return model.VerdictAccepted
}

// AggregateResults is Aggregate over recorded results.
func AggregateResults(results []model.TestResult) model.Verdict {
	verdicts := make([]model.Verdict, len(results))
	for i, r := range results {
		verdicts[i] = r.Verdict
	}
	return Aggregate(verdicts)
}
