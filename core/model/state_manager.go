// Package model provides lifecycle state shared by estimators, datasets and trees.
package model

import (
	"sync"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// StateManager tracks whether an estimator has been fitted.
type StateManager struct {
	mu     sync.RWMutex
	fitted bool

	NFeatures int
	NSamples  int
}

// NewStateManager creates a new, unfitted StateManager.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// SetFitted marks the model as fitted with the given training shape.
func (s *StateManager) SetFitted(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = true
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// Reset returns to the unfitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = false
	s.NFeatures = 0
	s.NSamples = 0
}

// RequireFitted returns a NotFittedError if the model has not been fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// Residency is the resident/released state of a pageable artifact.
type Residency int

const (
	// Resident means the artifact is materialized in memory.
	Resident Residency = iota
	// Released means the artifact lives only in its backing file.
	Released
)

func (r Residency) String() string {
	if r == Released {
		return "released"
	}
	return "resident"
}

// ResidencyState guards resident/released transitions.
// Only Load and Release style operations call Set; everything else calls Require.
type ResidencyState struct {
	mu    sync.RWMutex
	state Residency
	path  string
}

// State returns the current residency.
func (r *ResidencyState) State() Residency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Path returns the backing file recorded by the last release or load.
func (r *ResidencyState) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Set records a transition and its backing file.
func (r *ResidencyState) Set(state Residency, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	if path != "" {
		r.path = path
	}
}

// Require returns a StateError unless the artifact is resident.
func (r *ResidencyState) Require(op string) error {
	if s := r.State(); s != Resident {
		return errors.NewStateError(op, s.String())
	}
	return nil
}
