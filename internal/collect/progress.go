package collect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketvault/internal/domain"
)

// ledgerState is the on-disk shape of the progress ledger. Keys are
// "<SYMBOL>|<start>..<end>" work units.
type ledgerState struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Plan      *planState        `json:"plan,omitempty"`
	Completed map[string]string `json:"completed"` // key -> completion time
	Failed    map[string]string `json:"failed"`    // key -> last failure reason
}

// planState records the last requested run so Resume can replay it.
type planState struct {
	Symbols []string `json:"symbols"`
	Start   string   `json:"start"` // YYYY-MM-DD
	End     string   `json:"end"`
}

// Ledger tracks per-(symbol, chunk) completion across runs. It lives in a
// JSON file next to the database; Checkpoint writes it atomically so a crash
// mid-write never corrupts prior progress.
type Ledger struct {
	mu    sync.Mutex
	path  string
	state ledgerState
}

// OpenLedger loads the ledger at path, starting empty when the file does not
// exist yet.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		path: path,
		state: ledgerState{
			Completed: make(map[string]string),
			Failed:    make(map[string]string),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress ledger: %w", err)
	}
	if err := json.Unmarshal(raw, &l.state); err != nil {
		return nil, fmt.Errorf("parsing progress ledger %s: %w", path, err)
	}
	if l.state.Completed == nil {
		l.state.Completed = make(map[string]string)
	}
	if l.state.Failed == nil {
		l.state.Failed = make(map[string]string)
	}
	return l, nil
}

// RecordPlan remembers the requested run parameters for Resume.
func (l *Ledger) RecordPlan(symbols []string, start, end time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Plan = &planState{
		Symbols: symbols,
		Start:   start.Format("2006-01-02"),
		End:     end.Format("2006-01-02"),
	}
}

// LastPlan returns the most recently recorded run parameters, if any.
func (l *Ledger) LastPlan() (symbols []string, start, end time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Plan == nil {
		return nil, time.Time{}, time.Time{}, false
	}
	start, err1 := time.Parse("2006-01-02", l.state.Plan.Start)
	end, err2 := time.Parse("2006-01-02", l.state.Plan.End)
	if err1 != nil || err2 != nil {
		return nil, time.Time{}, time.Time{}, false
	}
	return l.state.Plan.Symbols, start, end, true
}

func unitKey(symbol string, chunk domain.AcquisitionChunk) string {
	return domain.NormalizeTicker(symbol) + "|" + chunk.Key()
}

// IsDone reports whether the (symbol, chunk) unit already completed in a
// previous run.
func (l *Ledger) IsDone(symbol string, chunk domain.AcquisitionChunk) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.state.Completed[unitKey(symbol, chunk)]
	return ok
}

// MarkCompleted records a finished unit and clears any earlier failure.
func (l *Ledger) MarkCompleted(symbol string, chunk domain.AcquisitionChunk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := unitKey(symbol, chunk)
	l.state.Completed[key] = time.Now().UTC().Format(time.RFC3339)
	delete(l.state.Failed, key)
}

// MarkFailed records why a unit did not complete. Failed units are retried on
// the next run.
func (l *Ledger) MarkFailed(symbol string, chunk domain.AcquisitionChunk, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Failed[unitKey(symbol, chunk)] = reason
}

// Counts returns the number of completed and failed units on record.
func (l *Ledger) Counts() (completed, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.Completed), len(l.state.Failed)
}

// Checkpoint persists the ledger atomically via a temp-file rename.
func (l *Ledger) Checkpoint() error {
	l.mu.Lock()
	l.state.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(l.state, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding progress ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing progress ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("committing progress ledger: %w", err)
	}
	return nil
}
