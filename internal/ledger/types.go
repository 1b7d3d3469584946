// Package ledger keeps the outcome of the most recent run of every role
// in a small yaml file under the agent's state directory.
package ledger

import "time"

// FileName is the ledger's name inside the state directory.
const FileName = "ledger.yaml"

// Ledger is the on-disk record.
type Ledger struct {
	Version int          `yaml:"version"`
	RunID   string       `yaml:"run_id,omitempty"`
	Host    string       `yaml:"host,omitempty"`
	Started time.Time    `yaml:"started,omitempty"`
	Roles   []RoleRecord `yaml:"roles"`
}

// RoleRecord is the last known outcome of one role.
type RoleRecord struct {
	Name     string        `yaml:"name"`
	Variant  string        `yaml:"variant"`
	Status   string        `yaml:"status"`
	State    string        `yaml:"state"`
	Error    string        `yaml:"error,omitempty"`
	Files    int           `yaml:"files"`
	Duration time.Duration `yaml:"duration"`
	Finished time.Time     `yaml:"finished"`
	RunID    string        `yaml:"run_id,omitempty"`
}

// Role outcome statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusDryRun = "dry-run"
)

// Record inserts or replaces the record for rec.Name, keeping the
// position of an existing record.
func (l *Ledger) Record(rec RoleRecord) {
	for i := range l.Roles {
		if l.Roles[i].Name == rec.Name && l.Roles[i].Variant == rec.Variant {
			l.Roles[i] = rec
			return
		}
	}
	l.Roles = append(l.Roles, rec)
}

// Failed returns the records whose last run failed.
func (l *Ledger) Failed() []RoleRecord {
	var out []RoleRecord
	for _, r := range l.Roles {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}
