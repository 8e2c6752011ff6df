package model

import (
	"fmt"
	"math"
	"math/rand"
)

// TrainConfig controls dense-head fine-tuning. The LSTM stays frozen; only
// the dense head moves, so a patient model can never drift far from the base.
type TrainConfig struct {
	LearningRate float64
	Epochs       int
	BatchSize    int
	ValSplit     float64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate: 1e-4,
		Epochs:       15,
		BatchSize:    32,
		ValSplit:     0.15,
	}
}

// Metrics summarizes the final epoch of a fine-tuning run. Values are in
// mg/dL terms since targets are raw glucose.
type Metrics struct {
	Loss      float64 `json:"loss"`
	MAE       float64 `json:"mae"`
	ValLoss   float64 `json:"val_loss"`
	ValMAE    float64 `json:"val_mae"`
	Epochs    int     `json:"epochs"`
	Sequences int     `json:"sequences"`
}

// Sequence pairs a scaled input window with its raw glucose targets, one
// target per horizon.
type Sequence struct {
	Window [][]float64
	Target []float64
}

// BuildSequences slides an inputLen window over scaled feature rows and takes
// raw glucose at each horizon offset past the window end as targets. rows and
// glucose must be aligned index-for-index.
func BuildSequences(rows [][]float64, glucose []float64, inputLen int, horizons []int) []Sequence {
	if len(rows) != len(glucose) || inputLen <= 0 || len(horizons) == 0 {
		return nil
	}
	maxH := horizons[0]
	for _, h := range horizons {
		if h > maxH {
			maxH = h
		}
	}

	var seqs []Sequence
	for i := 0; i+inputLen+maxH <= len(rows); i++ {
		end := i + inputLen
		target := make([]float64, len(horizons))
		for k, h := range horizons {
			target[k] = glucose[end+h-1]
		}
		seqs = append(seqs, Sequence{
			Window: rows[i:end],
			Target: target,
		})
	}
	return seqs
}

type adamState struct {
	mW, vW [][]float64
	mB, vB []float64
	t      int
}

func newAdamState(outputs, hidden int) *adamState {
	st := &adamState{
		mW: make([][]float64, outputs),
		vW: make([][]float64, outputs),
		mB: make([]float64, outputs),
		vB: make([]float64, outputs),
	}
	for k := range st.mW {
		st.mW[k] = make([]float64, hidden)
		st.vW[k] = make([]float64, hidden)
	}
	return st
}

// FinetuneDense trains a copy of the base model's dense head on the given
// sequences and returns the tuned model with its final-epoch metrics. The
// LSTM is frozen, so each sequence's final hidden state is computed once up
// front and reused across every epoch.
func FinetuneDense(base *SequenceModel, seqs []Sequence, cfg TrainConfig) (*SequenceModel, *Metrics, error) {
	if len(seqs) == 0 {
		return nil, nil, fmt.Errorf("no training sequences")
	}
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.LearningRate <= 0 {
		return nil, nil, fmt.Errorf("invalid train config: %+v", cfg)
	}

	m := base.Clone()
	K := m.OutputSize

	hiddens := make([][]float64, len(seqs))
	for i, seq := range seqs {
		h, err := m.FinalHidden(seq.Window)
		if err != nil {
			return nil, nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		if len(seq.Target) != K {
			return nil, nil, fmt.Errorf("sequence %d has %d targets, want %d", i, len(seq.Target), K)
		}
		hiddens[i] = h
	}

	// Validation takes the tail of the chronological sequence list so the
	// model is always validated on data newer than it trained on.
	nVal := int(math.Round(cfg.ValSplit * float64(len(seqs))))
	if nVal >= len(seqs) {
		nVal = len(seqs) - 1
	}
	nTrain := len(seqs) - nVal
	if nTrain == 0 {
		return nil, nil, fmt.Errorf("no training sequences left after validation split")
	}

	trainIdx := make([]int, nTrain)
	for i := range trainIdx {
		trainIdx[i] = i
	}
	rng := rand.New(rand.NewSource(42))

	st := newAdamState(K, m.HiddenSize)
	const b1, b2, eps = 0.9, 0.999, 1e-8

	var metrics Metrics
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})

		for off := 0; off < len(trainIdx); off += cfg.BatchSize {
			batch := trainIdx[off:min(off+cfg.BatchSize, len(trainIdx))]

			gradW := make([][]float64, K)
			gradB := make([]float64, K)
			for k := range gradW {
				gradW[k] = make([]float64, m.HiddenSize)
			}

			invN := 1.0 / float64(len(batch))
			for _, i := range batch {
				h := hiddens[i]
				pred := m.dense(h)
				for k := 0; k < K; k++ {
					// d(mse)/d(pred_k) with mse averaged over outputs.
					d := 2.0 * (pred[k] - seqs[i].Target[k]) / float64(K) * invN
					gw := gradW[k]
					for j, hv := range h {
						gw[j] += d * hv
					}
					gradB[k] += d
				}
			}

			st.t++
			b1c := 1.0 - math.Pow(b1, float64(st.t))
			b2c := 1.0 - math.Pow(b2, float64(st.t))
			for k := 0; k < K; k++ {
				for j := range m.DenseW[k] {
					g := gradW[k][j]
					st.mW[k][j] = b1*st.mW[k][j] + (1-b1)*g
					st.vW[k][j] = b2*st.vW[k][j] + (1-b2)*g*g
					m.DenseW[k][j] -= cfg.LearningRate * (st.mW[k][j] / b1c) / (math.Sqrt(st.vW[k][j]/b2c) + eps)
				}
				g := gradB[k]
				st.mB[k] = b1*st.mB[k] + (1-b1)*g
				st.vB[k] = b2*st.vB[k] + (1-b2)*g*g
				m.DenseB[k] -= cfg.LearningRate * (st.mB[k] / b1c) / (math.Sqrt(st.vB[k]/b2c) + eps)
			}
		}

		metrics.Loss, metrics.MAE = evaluate(m, hiddens[:nTrain], seqs[:nTrain])
		if nVal > 0 {
			metrics.ValLoss, metrics.ValMAE = evaluate(m, hiddens[nTrain:], seqs[nTrain:])
		}
	}
	metrics.Epochs = cfg.Epochs
	metrics.Sequences = len(seqs)

	return m, &metrics, nil
}

func evaluate(m *SequenceModel, hiddens [][]float64, seqs []Sequence) (mse, mae float64) {
	if len(seqs) == 0 {
		return 0, 0
	}
	for i, h := range hiddens {
		pred := m.dense(h)
		for k, p := range pred {
			diff := p - seqs[i].Target[k]
			mse += diff * diff
			mae += math.Abs(diff)
		}
	}
	n := float64(len(seqs) * m.OutputSize)
	return mse / n, mae / n
}
