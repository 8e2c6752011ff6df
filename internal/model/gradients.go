package model

import "fmt"

// InputGradients estimates d(pred[output])/d(input[t][f]) for every cell of
// the window via central finite differences. The LSTM is small enough that
// the 2*T*F forward passes stay well under a millisecond, which spares us a
// full backprop-through-time implementation for a read-only explanation path.
func (m *SequenceModel) InputGradients(window [][]float64, output int) ([][]float64, error) {
	if output < 0 || output >= m.OutputSize {
		return nil, fmt.Errorf("output index %d out of range [0,%d)", output, m.OutputSize)
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("empty input window")
	}

	const eps = 1e-4

	// Work on a private copy so perturbations never leak to the caller.
	w := cloneMatrix(window)
	grads := make([][]float64, len(w))
	for t := range w {
		grads[t] = make([]float64, len(w[t]))
		for f := range w[t] {
			orig := w[t][f]

			w[t][f] = orig + eps
			up, err := m.Forward(w)
			if err != nil {
				return nil, err
			}
			w[t][f] = orig - eps
			down, err := m.Forward(w)
			if err != nil {
				return nil, err
			}
			w[t][f] = orig

			grads[t][f] = (up[output] - down[output]) / (2 * eps)
		}
	}
	return grads, nil
}
