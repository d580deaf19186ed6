package ml

// RecoveryModel estimates the probability that a currently losing position
// recovers before expiry. It drives the ML stop loss: high recovery
// probability holds the position, high continued-loss probability sells it.
type RecoveryModel struct {
	Model *OnlineClassifier `json:"model"`
}

// NewRecoveryModel creates an untrained recovery model.
func NewRecoveryModel(learningRate float64) *RecoveryModel {
	return &RecoveryModel{
		Model: NewOnlineClassifier(PositionFeatureDim, learningRate),
	}
}

// RecoveryProbability returns the probability that the position recovers.
func (m *RecoveryModel) RecoveryProbability(features []float64) float64 {
	return m.Model.Probability(features)
}

// ContinuedLossProbability is the complement, used by the sell branch.
func (m *RecoveryModel) ContinuedLossProbability(features []float64) float64 {
	return 1 - m.RecoveryProbability(features)
}

// Update trains on a settled position: recovered means the position ended
// with a positive profit after having been observed at a loss.
func (m *RecoveryModel) Update(features []float64, recovered bool) {
	m.Model.UpdateLabel(features, recovered)
}

// Snapshot returns a copy safe to marshal while updates continue.
func (m *RecoveryModel) Snapshot() RecoveryModel {
	saved := m.Model.Snapshot()
	return RecoveryModel{Model: &saved}
}

// Restore replaces the model state with a previously saved snapshot.
func (m *RecoveryModel) Restore(saved RecoveryModel) {
	if saved.Model == nil {
		return
	}
	m.Model.Restore(*saved.Model)
}
