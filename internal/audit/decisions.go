// Package audit records scheduling decisions for Circadia.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/circadia/internal/models"
)

// DecisionStore persists decision records.
type DecisionStore interface {
	WriteDecision(ctx context.Context, action, inputsHash, outcome, subjectID, details string) (*models.Decision, error)
}

// Recorder writes decision records for state-mutating scheduler actions.
type Recorder struct {
	store DecisionStore
}

// NewRecorder creates a new decision recorder.
func NewRecorder(s DecisionStore) *Recorder {
	return &Recorder{store: s}
}

// Record writes a decision for an action on a job or task.
// A nil Recorder records nothing.
func (r *Recorder) Record(ctx context.Context, action string, inputs any, outcome, subjectID, details string) (*models.Decision, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	return r.store.WriteDecision(ctx, action, hashInputs(inputs), outcome, subjectID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
