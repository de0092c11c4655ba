package api

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/clubhouse/internal/uuid"
	"github.com/jmcleod/clubhouse/storage"
)

const (
	activityCollection        = "__activity"
	defaultActivityMaxEntries = 1000
)

// ActivityEntry records one administrative change to site records.
type ActivityEntry struct {
	ID         string     `json:"id"`
	Action     AuditEvent `json:"action"`
	ActorID    string     `json:"actor_id"`
	Collection string     `json:"collection"`
	RecordID   string     `json:"record_id"`
	Summary    string     `json:"summary,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// activityLog persists ActivityEntry values in the repository, keeping at
// most maxEntries of the newest.
type activityLog struct {
	repo       storage.Repository
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	appends int
}

func newActivityLog(repo storage.Repository, maxEntries int) *activityLog {
	if maxEntries <= 0 {
		maxEntries = defaultActivityMaxEntries
	}
	return &activityLog{repo: repo, maxEntries: maxEntries, now: time.Now}
}

func (l *activityLog) append(action AuditEvent, actorID, collection, recordID, summary string) error {
	entry := ActivityEntry{
		ID:         uuid.New(),
		Action:     action,
		ActorID:    actorID,
		Collection: collection,
		RecordID:   recordID,
		Summary:    summary,
		CreatedAt:  l.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := l.repo.Put(activityCollection, entry.ID, data); err != nil {
		return err
	}

	l.mu.Lock()
	l.appends++
	check := l.appends >= retentionCheckThreshold(l.maxEntries)
	if check {
		l.appends = 0
	}
	l.mu.Unlock()
	if check {
		return l.prune()
	}
	return nil
}

// list returns entries newest first.
func (l *activityLog) list() ([]ActivityEntry, error) {
	ids, err := l.repo.List(activityCollection)
	if err != nil {
		return nil, err
	}
	entries := make([]ActivityEntry, 0, len(ids))
	for _, id := range ids {
		data, err := l.repo.Get(activityCollection, id)
		if err != nil {
			continue
		}
		var entry ActivityEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// prune deletes the oldest entries beyond maxEntries.
func (l *activityLog) prune() error {
	entries, err := l.list()
	if err != nil {
		return err
	}
	if len(entries) <= l.maxEntries {
		return nil
	}
	for _, e := range entries[l.maxEntries:] {
		if err := l.repo.Delete(activityCollection, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// retentionCheckThreshold spaces out prune passes: every tenth of the cap,
// at least every append for small caps.
func retentionCheckThreshold(maxEntries int) int {
	n := maxEntries / 10
	if n < 1 {
		n = 1
	}
	return n
}
