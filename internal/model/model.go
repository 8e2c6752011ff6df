package model

import (
	"fmt"
	"math"
)

// SequenceModel is a single-layer LSTM followed by a dense head mapping the
// final hidden state to one glucose prediction per horizon. Weight matrices
// use the stacked-gate layout: rows 0..H-1 are the input gate, H..2H-1 the
// forget gate, 2H..3H-1 the cell candidate, 3H..4H-1 the output gate.
type SequenceModel struct {
	InputSize  int `json:"input_size"`
	HiddenSize int `json:"hidden_size"`
	OutputSize int `json:"output_size"`

	WIh [][]float64 `json:"w_ih"` // (4*hidden) x input
	WHh [][]float64 `json:"w_hh"` // (4*hidden) x hidden
	BIh []float64   `json:"b_ih"` // 4*hidden
	BHh []float64   `json:"b_hh"` // 4*hidden

	DenseW [][]float64 `json:"dense_w"` // output x hidden
	DenseB []float64   `json:"dense_b"` // output
}

func (m *SequenceModel) Validate() error {
	if m.InputSize <= 0 || m.HiddenSize <= 0 || m.OutputSize <= 0 {
		return fmt.Errorf("invalid dimensions: input=%d hidden=%d output=%d", m.InputSize, m.HiddenSize, m.OutputSize)
	}
	g := 4 * m.HiddenSize
	if len(m.WIh) != g || len(m.WHh) != g || len(m.BIh) != g || len(m.BHh) != g {
		return fmt.Errorf("gate weight rows mismatch: want %d, got w_ih=%d w_hh=%d b_ih=%d b_hh=%d",
			g, len(m.WIh), len(m.WHh), len(m.BIh), len(m.BHh))
	}
	for i := range m.WIh {
		if len(m.WIh[i]) != m.InputSize {
			return fmt.Errorf("w_ih row %d has %d columns, want %d", i, len(m.WIh[i]), m.InputSize)
		}
		if len(m.WHh[i]) != m.HiddenSize {
			return fmt.Errorf("w_hh row %d has %d columns, want %d", i, len(m.WHh[i]), m.HiddenSize)
		}
	}
	if len(m.DenseW) != m.OutputSize || len(m.DenseB) != m.OutputSize {
		return fmt.Errorf("dense head mismatch: want %d outputs, got w=%d b=%d", m.OutputSize, len(m.DenseW), len(m.DenseB))
	}
	for i := range m.DenseW {
		if len(m.DenseW[i]) != m.HiddenSize {
			return fmt.Errorf("dense_w row %d has %d columns, want %d", i, len(m.DenseW[i]), m.HiddenSize)
		}
	}
	return nil
}

// Clone deep-copies the model. Fine-tuning mutates only the clone's dense
// head, but every slice is copied so the base artifact stays pristine.
func (m *SequenceModel) Clone() *SequenceModel {
	c := &SequenceModel{
		InputSize:  m.InputSize,
		HiddenSize: m.HiddenSize,
		OutputSize: m.OutputSize,
		WIh:        cloneMatrix(m.WIh),
		WHh:        cloneMatrix(m.WHh),
		BIh:        append([]float64(nil), m.BIh...),
		BHh:        append([]float64(nil), m.BHh...),
		DenseW:     cloneMatrix(m.DenseW),
		DenseB:     append([]float64(nil), m.DenseB...),
	}
	return c
}

func cloneMatrix(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i, row := range src {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// FinalHidden runs the LSTM over a window of scaled feature rows and returns
// the final hidden state.
func (m *SequenceModel) FinalHidden(window [][]float64) ([]float64, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("empty input window")
	}
	H := m.HiddenSize
	h := make([]float64, H)
	c := make([]float64, H)
	gates := make([]float64, 4*H)

	for ti, x := range window {
		if len(x) != m.InputSize {
			return nil, fmt.Errorf("row %d has %d features, want %d", ti, len(x), m.InputSize)
		}
		for r := 0; r < 4*H; r++ {
			sum := m.BIh[r] + m.BHh[r]
			wi := m.WIh[r]
			for j, v := range x {
				sum += wi[j] * v
			}
			wh := m.WHh[r]
			for j, v := range h {
				sum += wh[j] * v
			}
			gates[r] = sum
		}
		for j := 0; j < H; j++ {
			ig := sigmoid(gates[j])
			fg := sigmoid(gates[H+j])
			gg := math.Tanh(gates[2*H+j])
			og := sigmoid(gates[3*H+j])
			c[j] = fg*c[j] + ig*gg
			h[j] = og * math.Tanh(c[j])
		}
	}
	return h, nil
}

// Forward predicts one value per horizon from a window of scaled feature rows.
func (m *SequenceModel) Forward(window [][]float64) ([]float64, error) {
	h, err := m.FinalHidden(window)
	if err != nil {
		return nil, err
	}
	return m.dense(h), nil
}

func (m *SequenceModel) dense(h []float64) []float64 {
	out := make([]float64, m.OutputSize)
	for k := 0; k < m.OutputSize; k++ {
		sum := m.DenseB[k]
		w := m.DenseW[k]
		for j, v := range h {
			sum += w[j] * v
		}
		out[k] = sum
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
