package ml

import (
	"math"
	"sync"
	"time"

	"deriv-trading-bot/internal/market"
)

// OnlineClassifier is a logistic model trained one example at a time. The
// exported fields are the persisted snapshot state.
type OnlineClassifier struct {
	mu sync.Mutex

	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	LearningRate float64   `json:"learning_rate"`
	Samples      int64     `json:"samples"`
	Correct      int64     `json:"correct"`
	LogLossSum   float64   `json:"log_loss_sum"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewOnlineClassifier creates an untrained classifier of the given input
// dimension.
func NewOnlineClassifier(dim int, learningRate float64) *OnlineClassifier {
	if learningRate <= 0 {
		learningRate = 0.02
	}
	return &OnlineClassifier{
		Weights:      make([]float64, dim),
		LearningRate: learningRate,
	}
}

// Probability returns the probability of the positive class. A dimension
// mismatch yields the neutral 0.5.
func (c *OnlineClassifier) Probability(features []float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probabilityLocked(features)
}

func (c *OnlineClassifier) probabilityLocked(features []float64) float64 {
	if len(features) != len(c.Weights) {
		return 0.5
	}
	z := c.Bias
	for i, w := range c.Weights {
		z += w * features[i]
	}
	return sigmoid(z)
}

// ProbRise satisfies the ensemble's model interface; the positive class is
// a rising price.
func (c *OnlineClassifier) ProbRise(features []float64) float64 {
	return c.Probability(features)
}

// Predict returns the predicted direction and the model's confidence in
// that direction.
func (c *OnlineClassifier) Predict(features []float64) (string, float64) {
	p := c.Probability(features)
	if p >= 0.5 {
		return market.DirectionRise, p
	}
	return market.DirectionFall, 1 - p
}

// Update applies one gradient step for an observed direction.
func (c *OnlineClassifier) Update(features []float64, direction string) {
	y := 0.0
	if direction == market.DirectionRise {
		y = 1.0
	}
	c.learn(features, y)
}

// UpdateLabel applies one gradient step for a boolean positive-class label.
func (c *OnlineClassifier) UpdateLabel(features []float64, positive bool) {
	y := 0.0
	if positive {
		y = 1.0
	}
	c.learn(features, y)
}

func (c *OnlineClassifier) learn(features []float64, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(features) != len(c.Weights) {
		return
	}

	p := c.probabilityLocked(features)

	// Score the pre-update prediction against the observed label.
	if (p >= 0.5) == (y == 1.0) {
		c.Correct++
	}
	c.LogLossSum += logLoss(p, y)
	c.Samples++

	grad := p - y
	for i := range c.Weights {
		c.Weights[i] -= c.LearningRate * grad * features[i]
	}
	c.Bias -= c.LearningRate * grad
	c.Version++
	c.UpdatedAt = time.Now().UTC()
}

func logLoss(p, y float64) float64 {
	const eps = 1e-12
	p = math.Min(math.Max(p, eps), 1-eps)
	if y == 1.0 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// Accuracy returns the running fraction of correct pre-update predictions.
func (c *OnlineClassifier) Accuracy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Samples == 0 {
		return 0
	}
	return float64(c.Correct) / float64(c.Samples)
}

// AvgLogLoss returns the mean log loss over all observed examples.
func (c *OnlineClassifier) AvgLogLoss() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Samples == 0 {
		return 0
	}
	return c.LogLossSum / float64(c.Samples)
}

// Snapshot returns a copy safe to marshal while updates continue.
func (c *OnlineClassifier) Snapshot() OnlineClassifier {
	c.mu.Lock()
	defer c.mu.Unlock()

	copyOf := OnlineClassifier{
		Weights:      append([]float64(nil), c.Weights...),
		Bias:         c.Bias,
		LearningRate: c.LearningRate,
		Samples:      c.Samples,
		Correct:      c.Correct,
		LogLossSum:   c.LogLossSum,
		Version:      c.Version,
		UpdatedAt:    c.UpdatedAt,
	}
	return copyOf
}

// Restore replaces the model state with a previously saved snapshot.
func (c *OnlineClassifier) Restore(saved OnlineClassifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Weights = append([]float64(nil), saved.Weights...)
	c.Bias = saved.Bias
	if saved.LearningRate > 0 {
		c.LearningRate = saved.LearningRate
	}
	c.Samples = saved.Samples
	c.Correct = saved.Correct
	c.LogLossSum = saved.LogLossSum
	c.Version = saved.Version
	c.UpdatedAt = saved.UpdatedAt
}

// GetStats returns model statistics for the status API.
func (c *OnlineClassifier) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	accuracy := 0.0
	avgLoss := 0.0
	if c.Samples > 0 {
		accuracy = float64(c.Correct) / float64(c.Samples)
		avgLoss = c.LogLossSum / float64(c.Samples)
	}
	return map[string]interface{}{
		"samples":       c.Samples,
		"accuracy":      accuracy,
		"avg_log_loss":  avgLoss,
		"version":       c.Version,
		"updated_at":    c.UpdatedAt,
		"learning_rate": c.LearningRate,
	}
}
