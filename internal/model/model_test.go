package model

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
)

// newTestModel builds a small deterministic model. Weights come from a seeded
// rng so forward outputs are stable across runs.
func newTestModel(inputSize, hiddenSize, outputSize int) *SequenceModel {
	rng := rand.New(rand.NewSource(7))
	randMatrix := func(rows, cols int) [][]float64 {
		m := make([][]float64, rows)
		for i := range m {
			m[i] = make([]float64, cols)
			for j := range m[i] {
				m[i][j] = rng.NormFloat64() * 0.2
			}
		}
		return m
	}
	g := 4 * hiddenSize
	return &SequenceModel{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		OutputSize: outputSize,
		WIh:        randMatrix(g, inputSize),
		WHh:        randMatrix(g, hiddenSize),
		BIh:        make([]float64, g),
		BHh:        make([]float64, g),
		DenseW:     randMatrix(outputSize, hiddenSize),
		DenseB:     make([]float64, outputSize),
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestValidateShapeErrors(t *testing.T) {
	m := newTestModel(3, 4, 2)
	if err := m.Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}

	bad := m.Clone()
	bad.WIh = bad.WIh[:len(bad.WIh)-1]
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for truncated w_ih")
	}

	bad = m.Clone()
	bad.DenseW[0] = bad.DenseW[0][:2]
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for short dense row")
	}
}

func TestForwardHandComputed(t *testing.T) {
	// One feature, one hidden unit, one output. Only the cell-candidate gate
	// sees the input; every other weight and bias is zero, so each gate value
	// can be computed by hand.
	m := &SequenceModel{
		InputSize:  1,
		HiddenSize: 1,
		OutputSize: 1,
		WIh:        [][]float64{{0}, {0}, {1}, {0}},
		WHh:        [][]float64{{0}, {0}, {0}, {0}},
		BIh:        []float64{0, 0, 0, 0},
		BHh:        []float64{0, 0, 0, 0},
		DenseW:     [][]float64{{2}},
		DenseB:     []float64{1},
	}
	out, err := m.Forward([][]float64{{1}})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// i=f=o=sigmoid(0)=0.5, g=tanh(1); c=0.5*tanh(1); h=0.5*tanh(c).
	c := 0.5 * math.Tanh(1)
	want := 2*0.5*math.Tanh(c) + 1
	if math.Abs(out[0]-want) > 1e-12 {
		t.Fatalf("Forward = %v, want %v", out[0], want)
	}
}

func TestForwardRejectsBadRow(t *testing.T) {
	m := newTestModel(3, 4, 2)
	if _, err := m.Forward([][]float64{{1, 2}}); err == nil {
		t.Fatal("expected error for short feature row")
	}
	if _, err := m.Forward(nil); err == nil {
		t.Fatal("expected error for empty window")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := newTestModel(2, 3, 1)
	c := m.Clone()
	c.DenseW[0][0] += 100
	c.WIh[0][0] += 100
	if m.DenseW[0][0] == c.DenseW[0][0] || m.WIh[0][0] == c.WIh[0][0] {
		t.Fatal("clone shares backing arrays with original")
	}
}

func TestBuildSequences(t *testing.T) {
	rows := make([][]float64, 6)
	glucose := make([]float64, 6)
	for i := range rows {
		rows[i] = []float64{float64(i)}
		glucose[i] = 100 + float64(i)
	}

	seqs := BuildSequences(rows, glucose, 2, []int{1, 2})
	// i + inputLen + maxHorizon <= 6 gives i in {0, 1, 2}.
	if len(seqs) != 3 {
		t.Fatalf("got %d sequences, want 3", len(seqs))
	}
	first := seqs[0]
	if len(first.Window) != 2 || first.Window[0][0] != 0 || first.Window[1][0] != 1 {
		t.Fatalf("unexpected first window: %v", first.Window)
	}
	// Window covers rows 0..1; horizons 1 and 2 land on rows 2 and 3.
	if first.Target[0] != 102 || first.Target[1] != 103 {
		t.Fatalf("unexpected first targets: %v", first.Target)
	}

	if got := BuildSequences(rows[:3], glucose[:3], 12, []int{6}); got != nil {
		t.Fatalf("short input should yield no sequences, got %d", len(got))
	}
}

func TestFinetuneDenseLearnsAndFreezesLSTM(t *testing.T) {
	base := newTestModel(2, 4, 1)

	// Targets are a fixed affine function of the final hidden state, so the
	// dense head alone can fit them.
	rng := rand.New(rand.NewSource(3))
	var seqs []Sequence
	for i := 0; i < 80; i++ {
		window := make([][]float64, 4)
		for tstep := range window {
			window[tstep] = []float64{rng.NormFloat64(), rng.NormFloat64()}
		}
		h, err := base.FinalHidden(window)
		if err != nil {
			t.Fatalf("FinalHidden: %v", err)
		}
		seqs = append(seqs, Sequence{
			Window: window,
			Target: []float64{3*h[0] - 2*h[1] + 0.5},
		})
	}

	before, _ := evaluate(base, hiddenStatesFor(t, base, seqs), seqs)

	cfg := DefaultTrainConfig()
	cfg.LearningRate = 0.05
	cfg.Epochs = 60
	tuned, metrics, err := FinetuneDense(base, seqs, cfg)
	if err != nil {
		t.Fatalf("FinetuneDense: %v", err)
	}

	if metrics.Loss >= before {
		t.Fatalf("training did not reduce loss: before=%v after=%v", before, metrics.Loss)
	}
	if metrics.Epochs != cfg.Epochs || metrics.Sequences != len(seqs) {
		t.Fatalf("metrics bookkeeping wrong: %+v", metrics)
	}
	if metrics.ValLoss <= 0 && metrics.ValMAE <= 0 {
		t.Fatalf("validation metrics missing: %+v", metrics)
	}

	for r := range base.WIh {
		for c := range base.WIh[r] {
			if tuned.WIh[r][c] != base.WIh[r][c] {
				t.Fatal("LSTM input weights moved during dense-only fine-tuning")
			}
		}
	}
	for r := range base.WHh {
		for c := range base.WHh[r] {
			if tuned.WHh[r][c] != base.WHh[r][c] {
				t.Fatal("LSTM recurrent weights moved during dense-only fine-tuning")
			}
		}
	}
}

func hiddenStatesFor(t *testing.T, m *SequenceModel, seqs []Sequence) [][]float64 {
	t.Helper()
	out := make([][]float64, len(seqs))
	for i, s := range seqs {
		h, err := m.FinalHidden(s.Window)
		if err != nil {
			t.Fatalf("FinalHidden: %v", err)
		}
		out[i] = h
	}
	return out
}

func TestFinetuneDenseRejectsEmpty(t *testing.T) {
	base := newTestModel(2, 3, 1)
	if _, _, err := FinetuneDense(base, nil, DefaultTrainConfig()); err == nil {
		t.Fatal("expected error for empty sequence set")
	}
}

func TestInputGradientsDeadFeatureIsZero(t *testing.T) {
	m := newTestModel(2, 3, 2)
	// Zero out every weight column for feature 1, making it invisible.
	for r := range m.WIh {
		m.WIh[r][1] = 0
	}

	window := [][]float64{{0.5, 2.0}, {-0.3, 1.0}, {0.1, -1.5}}
	grads, err := m.InputGradients(window, 0)
	if err != nil {
		t.Fatalf("InputGradients: %v", err)
	}

	var live float64
	for tstep := range grads {
		if grads[tstep][1] != 0 {
			t.Fatalf("dead feature has nonzero gradient at step %d: %v", tstep, grads[tstep][1])
		}
		live += math.Abs(grads[tstep][0])
	}
	if live == 0 {
		t.Fatal("live feature has zero gradient everywhere")
	}

	if _, err := m.InputGradients(window, 5); err == nil {
		t.Fatal("expected error for out-of-range output index")
	}
}

func TestInputGradientsDoNotMutateWindow(t *testing.T) {
	m := newTestModel(2, 3, 1)
	window := [][]float64{{0.25, -0.75}, {1.5, 0.5}}
	if _, err := m.InputGradients(window, 0); err != nil {
		t.Fatalf("InputGradients: %v", err)
	}
	if window[0][0] != 0.25 || window[1][1] != 0.5 {
		t.Fatalf("window mutated: %v", window)
	}
}

func TestScalerTransform(t *testing.T) {
	s := &Scaler{Mean: []float64{100, 0}, Scale: []float64{10, 2}}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	row, err := s.Transform([]float64{120, -4})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if row[0] != 2 || row[1] != -2 {
		t.Fatalf("Transform = %v, want [2 -2]", row)
	}

	if _, err := s.Transform([]float64{1}); err == nil {
		t.Fatal("expected error for row/scaler length mismatch")
	}
	bad := &Scaler{Mean: []float64{0}, Scale: []float64{0}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero scale")
	}
}

func TestStorePatientRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testLogger(t))
	patientID := uuid.New()

	if store.HasPatient(patientID) {
		t.Fatal("HasPatient true before save")
	}
	if _, err := store.LoadPatient(patientID); err == nil {
		t.Fatal("expected error loading missing patient model")
	}

	m := newTestModel(8, 6, 3)
	if err := store.SavePatient(patientID, m); err != nil {
		t.Fatalf("SavePatient: %v", err)
	}
	if !store.HasPatient(patientID) {
		t.Fatal("HasPatient false after save")
	}

	loaded, err := store.LoadPatient(patientID)
	if err != nil {
		t.Fatalf("LoadPatient: %v", err)
	}
	if loaded.HiddenSize != m.HiddenSize || loaded.DenseW[0][0] != m.DenseW[0][0] {
		t.Fatal("loaded model does not match saved model")
	}

	// No stray temp files should survive a successful save.
	entries, err := os.ReadDir(filepath.Join(dir, "patients"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("patients dir has %d entries, want 1", len(entries))
	}
}

func TestStoreMissingBaseArtifacts(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger(t))
	if _, err := store.LoadBase(); err == nil {
		t.Fatal("expected error for missing base model")
	}
	if _, err := store.LoadScaler(); err == nil {
		t.Fatal("expected error for missing scaler")
	}
	if _, err := store.LoadMeta(); err == nil {
		t.Fatal("expected error for missing meta")
	}
}

func TestMetaHorizonMinutes(t *testing.T) {
	m := &Meta{FeatureCols: []string{"glucose"}, InputLen: 12, Horizons: []int{6, 12, 18}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := m.HorizonMinutes()
	want := []int{30, 60, 90}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("HorizonMinutes = %v, want %v", got, want)
		}
	}
}
