package counters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// snapshot is the on-disk shape
type snapshot struct {
	CallsToday         uint64  `json:"calls_today"`
	DurationToday      float64 `json:"duration_today"`
	RetransmittedCalls uint64  `json:"retransmitted_calls"`
	LastResetDate      string  `json:"last_reset_date"`
}

// Daily tracks per-day call statistics. Counters roll over to zero when the
// local date changes, whether across a restart or while running. Persistence
// is a single JSON file written atomically at shutdown.
type Daily struct {
	mu    sync.Mutex
	state snapshot
	now   func() time.Time
}

// New creates zeroed counters for today
func New() *Daily {
	d := &Daily{now: time.Now}
	d.state.LastResetDate = d.now().Format(dateLayout)
	return d
}

// Load reads counters from path. A missing file or a stored date other than
// today yields zeroed counters for today.
func Load(path string) (*Daily, error) {
	d := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("reading counters file: %w", err)
	}

	var stored snapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing counters file: %w", err)
	}

	if stored.LastResetDate == d.state.LastResetDate {
		d.state = stored
	}
	return d, nil
}

// RecordCall accounts one ended stream. retransmitted marks a stream that
// was forwarded to at least one target.
func (d *Daily) RecordCall(duration time.Duration, retransmitted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked()

	d.state.CallsToday++
	d.state.DurationToday += duration.Seconds()
	if retransmitted {
		d.state.RetransmittedCalls++
	}
}

// rolloverLocked zeroes the counters when the local date has changed
func (d *Daily) rolloverLocked() {
	today := d.now().Format(dateLayout)
	if d.state.LastResetDate != today {
		d.state = snapshot{LastResetDate: today}
	}
}

// Stats returns the current values: calls, duration seconds, retransmitted
func (d *Daily) Stats() (calls uint64, durationSeconds float64, retransmitted uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked()
	return d.state.CallsToday, d.state.DurationToday, d.state.RetransmittedCalls
}

// LastResetDate returns the date the counters belong to (YYYY-MM-DD local)
func (d *Daily) LastResetDate() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.LastResetDate
}

// Save writes the counters to path atomically (temp file + rename)
func (d *Daily) Save(path string) error {
	d.mu.Lock()
	d.rolloverLocked()
	data, err := json.MarshalIndent(d.state, "", "  ")
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding counters: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".counters-*.json")
	if err != nil {
		return fmt.Errorf("creating temp counters file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing counters: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing counters file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing counters file: %w", err)
	}
	return nil
}
