package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
)

const (
	baseModelFile = "base_model.json"
	scalerFile    = "scaler.json"
	metaFile      = "meta.json"
	patientsDir   = "patients"
)

// Store reads and writes model artifacts under a single directory:
//
//	<dir>/base_model.json
//	<dir>/scaler.json
//	<dir>/meta.json
//	<dir>/patients/<patient-id>.json
type Store struct {
	dir string
	log *logger.Logger
}

func NewStore(dir string, baseLog *logger.Logger) *Store {
	storeLog := baseLog.With("component", "ModelStore")
	return &Store{dir: dir, log: storeLog}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) LoadBase() (*SequenceModel, error) {
	var m SequenceModel
	if err := s.readJSON(filepath.Join(s.dir, baseModelFile), &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("base model artifact: %w", err)
	}
	return &m, nil
}

func (s *Store) LoadScaler() (*Scaler, error) {
	var sc Scaler
	if err := s.readJSON(filepath.Join(s.dir, scalerFile), &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scaler artifact: %w", err)
	}
	return &sc, nil
}

func (s *Store) LoadMeta() (*Meta, error) {
	var m Meta
	if err := s.readJSON(filepath.Join(s.dir, metaFile), &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("meta artifact: %w", err)
	}
	return &m, nil
}

func (s *Store) patientPath(patientID uuid.UUID) string {
	return filepath.Join(s.dir, patientsDir, patientID.String()+".json")
}

func (s *Store) HasPatient(patientID uuid.UUID) bool {
	_, err := os.Stat(s.patientPath(patientID))
	return err == nil
}

func (s *Store) LoadPatient(patientID uuid.UUID) (*SequenceModel, error) {
	var m SequenceModel
	if err := s.readJSON(s.patientPath(patientID), &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("patient model artifact: %w", err)
	}
	return &m, nil
}

// SavePatient writes the fine-tuned model atomically: a concurrent forecast
// never observes a half-written artifact.
func (s *Store) SavePatient(patientID uuid.UUID, m *SequenceModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid model: %w", err)
	}
	dir := filepath.Join(s.dir, patientsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create patients dir: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal patient model: %w", err)
	}

	tmp, err := os.CreateTemp(dir, patientID.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, s.patientPath(patientID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish patient model: %w", err)
	}

	s.log.Debug("Saved patient model artifact", "patient_id", patientID.String(), "bytes", len(data))
	return nil
}

func (s *Store) readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
