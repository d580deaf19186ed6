package strategy

import (
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/ml"
)

// EnsembleEvaluator surfaces the blended GBT plus sequence-model score
// as a standalone signal. Confidence is the distance of the blended
// probability from the coin flip, mapped back to [0.5, 1].
type EnsembleEvaluator struct {
	ensemble *ml.Ensemble
}

// NewEnsembleEvaluator wraps a shared ensemble instance.
func NewEnsembleEvaluator(ensemble *ml.Ensemble) *EnsembleEvaluator {
	return &EnsembleEvaluator{ensemble: ensemble}
}

func (e *EnsembleEvaluator) Name() string { return "ensemble" }

func (e *EnsembleEvaluator) Decide(candles []market.Candle, ctx Context) (Signal, error) {
	if e.ensemble == nil {
		return Neutral("ensemble models not configured"), nil
	}

	features := ml.CandleFeatures(candles)
	if features == nil {
		return Neutral("not enough candles for a feature vector"), nil
	}

	score := e.ensemble.Score(features)
	conf := score.ProbRise
	if score.Direction == market.DirectionFall {
		conf = 1 - score.ProbRise
	}

	return Signal{
		Side:       score.Direction,
		Confidence: clampConfidence(conf),
		Reason:     "ensemble model blend",
		Metadata: map[string]interface{}{
			"prob_rise": score.ProbRise,
			"gbt_prob":  score.GBTProb,
			"seq_prob":  score.SeqProb,
			"agreement": score.Agreement,
		},
	}, nil
}
