package strategy

import (
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/ml"
)

// OnlineEvaluator asks the incrementally-trained classifier for a
// probability of the next move being a rise. Training happens elsewhere
// as outcomes settle; this evaluator only reads.
type OnlineEvaluator struct {
	classifier *ml.OnlineClassifier
}

// NewOnlineEvaluator wraps a shared classifier instance.
func NewOnlineEvaluator(classifier *ml.OnlineClassifier) *OnlineEvaluator {
	return &OnlineEvaluator{classifier: classifier}
}

func (o *OnlineEvaluator) Name() string { return "online" }

func (o *OnlineEvaluator) Decide(candles []market.Candle, ctx Context) (Signal, error) {
	if o.classifier == nil {
		return Neutral("online classifier not configured"), nil
	}

	features := ml.CandleFeatures(candles)
	if features == nil {
		return Neutral("not enough candles for a feature vector"), nil
	}

	side, conf := o.classifier.Predict(features)
	return Signal{
		Side:       side,
		Confidence: conf,
		Reason:     "online classifier prediction",
		Metadata: map[string]interface{}{
			"prob_rise": o.classifier.Probability(features),
			"accuracy":  o.classifier.Accuracy(),
		},
	}, nil
}
