package policy

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"agentguard/internal/domain"

	"github.com/google/uuid"
)

// auditTrail is the engine's in-memory evaluation log. Persistence, when
// enabled, is handled by the audit store one layer up.
type auditTrail struct {
	mu      sync.RWMutex
	records []domain.PolicyAuditEntry
}

func newAuditTrail() *auditTrail {
	return &auditTrail{}
}

// logRequest opens an entry for the request and returns its audit id.
func (t *auditTrail) logRequest(req domain.PolicyRequest) string {
	entry := domain.PolicyAuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Request:   req,
	}
	t.mu.Lock()
	t.records = append(t.records, entry)
	t.mu.Unlock()
	return entry.ID
}

// logDecision attaches the decision to its open entry.
func (t *auditTrail) logDecision(decision domain.PolicyDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if t.records[i].ID == decision.AuditID {
			d := decision
			t.records[i].Decision = &d
			return
		}
	}
}

func (t *auditTrail) entries() []domain.PolicyAuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.PolicyAuditEntry, len(t.records))
	copy(out, t.records)
	return out
}

// WriteTrailJSONL writes entries as JSON lines, one record per line.
func WriteTrailJSONL(w io.Writer, entries []domain.PolicyAuditEntry) error {
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return err
		}
	}
	return nil
}
