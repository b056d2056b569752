package safety

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SessionLedger is the per-analysis-session record of modifications performed
// and backups written. It is the only mutable shared state in the engine; all
// counter increments and backup registrations are serialized on its mutex.
// Ledgers are discarded at session end.
type SessionLedger struct {
	ID        string
	CreatedAt time.Time

	mu            sync.Mutex
	modifications int
	backups       *orderedmap.OrderedMap[string, string] // target path -> backup location
	targetLocks   map[string]*sync.Mutex
}

// BackupEntry is one registered backup, in registration order.
type BackupEntry struct {
	Target   string `json:"target"`
	Location string `json:"location"`
}

// NewLedger creates an empty ledger for one analysis session.
func NewLedger(id string) *SessionLedger {
	return &SessionLedger{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		backups:   orderedmap.New[string, string](),
		targetLocks: make(map[string]*sync.Mutex),
	}
}

// LockTarget acquires the mutation lock for one absolute target path and
// returns its unlock function. The caller holds the lock for the full
// backup-write + mutate + verify sequence, so two concurrent plans can never
// double-mutate the same file.
func (l *SessionLedger) LockTarget(absPath string) func() {
	l.mu.Lock()
	lock, ok := l.targetLocks[absPath]
	if !ok {
		lock = &sync.Mutex{}
		l.targetLocks[absPath] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Modifications returns the number of modifications charged to the session.
func (l *SessionLedger) Modifications() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.modifications
}

// BackupFor returns the most recent backup location registered for a target.
func (l *SessionLedger) BackupFor(target string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	location, ok := l.backups.Get(target)
	return location, ok
}

// Backups returns all registered backups in registration order.
func (l *SessionLedger) Backups() []BackupEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]BackupEntry, 0, l.backups.Len())
	for pair := l.backups.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, BackupEntry{Target: pair.Key, Location: pair.Value})
	}
	return entries
}

// charge records one modification and its backup under the ledger mutex. The
// governor calls this only after the backup write succeeded, so a crash
// mid-mutation cannot silently exceed the quota on retry.
func (l *SessionLedger) charge(target, backupLocation string) {
	l.backups.Set(target, backupLocation)
	l.modifications++
}
