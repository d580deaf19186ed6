package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"deriv-trading-bot/internal/market"
)

// ProbModel yields the probability that price rises over the trade horizon.
type ProbModel interface {
	ProbRise(features []float64) float64
}

type treeNode struct {
	Feature   int      `json:"feature"`
	Threshold float64  `json:"threshold"`
	Left      int      `json:"left"`
	Right     int      `json:"right"`
	Leaf      *float64 `json:"leaf,omitempty"`
}

// GBTModel is a gradient-boosted tree artifact exported offline as JSON.
// Tree scores are summed and squashed into a probability.
type GBTModel struct {
	Trees [][]treeNode `json:"trees"`
	Bias  float64      `json:"bias"`
}

// LoadGBTModel reads a tree artifact from disk.
func LoadGBTModel(path string) (*GBTModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var model GBTModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("error parsing tree model %s: %w", path, err)
	}
	return &model, nil
}

// ProbRise scores the feature vector through every tree.
func (m *GBTModel) ProbRise(features []float64) float64 {
	score := m.Bias
	for _, tree := range m.Trees {
		score += scoreTree(tree, features)
	}
	return sigmoid(score)
}

// scoreTree walks one tree to its leaf. Malformed nodes score zero rather
// than panicking on a bad artifact.
func scoreTree(tree []treeNode, features []float64) float64 {
	if len(tree) == 0 {
		return 0
	}
	idx := 0
	for depth := 0; depth < 64; depth++ {
		node := tree[idx]
		if node.Leaf != nil {
			return *node.Leaf
		}
		if node.Feature < 0 || node.Feature >= len(features) {
			return 0
		}
		if features[node.Feature] < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		if idx < 0 || idx >= len(tree) {
			return 0
		}
	}
	return 0
}

// SeqModel is a sequence model exported offline as a linear scorer over the
// flattened feature window.
type SeqModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LoadSeqModel reads a sequence model artifact from disk.
func LoadSeqModel(path string) (*SeqModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var model SeqModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("error parsing sequence model %s: %w", path, err)
	}
	return &model, nil
}

// ProbRise scores the feature vector; a dimension mismatch is neutral.
func (m *SeqModel) ProbRise(features []float64) float64 {
	if len(features) != len(m.Weights) {
		return 0.5
	}
	z := m.Bias
	for i, w := range m.Weights {
		z += w * features[i]
	}
	return sigmoid(z)
}

// EnsembleScore is the combined view over both component models.
type EnsembleScore struct {
	ProbRise  float64 `json:"prob_rise"`
	GBTProb   float64 `json:"gbt_prob"`
	SeqProb   float64 `json:"seq_prob"`
	Direction string  `json:"direction"`
	Agreement bool    `json:"agreement"`
}

// Ensemble combines the tree and sequence model probabilities with fixed
// weights. A missing or broken component contributes the neutral 0.5, so
// scoring never fails.
type Ensemble struct {
	gbt       ProbModel
	seq       ProbModel
	gbtWeight float64
	seqWeight float64
}

// NewEnsemble builds an ensemble; either model may be nil.
func NewEnsemble(gbt, seq ProbModel, gbtWeight, seqWeight float64) *Ensemble {
	if gbtWeight <= 0 {
		gbtWeight = 0.6
	}
	if seqWeight <= 0 {
		seqWeight = 0.4
	}
	return &Ensemble{gbt: gbt, seq: seq, gbtWeight: gbtWeight, seqWeight: seqWeight}
}

// LoadEnsemble loads gbt.json and seq.json from dir. Missing artifacts are
// tolerated; the ensemble then leans on whatever loaded.
func LoadEnsemble(dir string, gbtWeight, seqWeight float64) *Ensemble {
	var gbt ProbModel
	if model, err := LoadGBTModel(filepath.Join(dir, "gbt.json")); err == nil {
		gbt = model
	}
	var seq ProbModel
	if model, err := LoadSeqModel(filepath.Join(dir, "seq.json")); err == nil {
		seq = model
	}
	return NewEnsemble(gbt, seq, gbtWeight, seqWeight)
}

// Score combines both models over the feature vector.
func (e *Ensemble) Score(features []float64) EnsembleScore {
	gbtProb := 0.5
	if e.gbt != nil {
		gbtProb = clampProb(e.gbt.ProbRise(features))
	}
	seqProb := 0.5
	if e.seq != nil {
		seqProb = clampProb(e.seq.ProbRise(features))
	}

	combined := (gbtProb*e.gbtWeight + seqProb*e.seqWeight) / (e.gbtWeight + e.seqWeight)

	direction := market.DirectionRise
	if combined < 0.5 {
		direction = market.DirectionFall
	}

	return EnsembleScore{
		ProbRise:  combined,
		GBTProb:   gbtProb,
		SeqProb:   seqProb,
		Direction: direction,
		Agreement: (gbtProb >= 0.5) == (seqProb >= 0.5),
	}
}
