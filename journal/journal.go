// Package journal keeps a local history of collection runs. Each run is an
// append-only revision in bbolt; a btree index tracks the latest state of
// every resource so runs can be diffed without touching DynamoDB.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/musterops/muster/types"
)

var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

// Journal is a revisioned store of collection runs.
type Journal struct {
	mu sync.RWMutex

	// In-memory index of latest state per resource key
	index *btree.BTreeG[*Entry]

	db *bbolt.DB

	currentRev int64
}

// Entry is the indexed state of one resource across runs.
type Entry struct {
	Key          string
	Kind         types.Kind
	AccountID    string
	Region       string
	MonthlyCost  float64
	FirstSeenRev int64
	LastSeenRev  int64
	Gone         bool
}

// Open opens or creates the journal under dir.
func Open(dir string) (*Journal, error) {
	db, err := bbolt.Open(filepath.Join(dir, "muster.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		index: btree.NewG[*Entry](32, func(a, b *Entry) bool {
			return a.Key < b.Key
		}),
		db: db,
	}

	if err := j.load(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// AppendRun stores one run's records as a new revision. Resources indexed
// from earlier runs but absent from this one are marked gone at this
// revision.
func (j *Journal) AppendRun(records []types.Record) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.currentRev++
	rev := j.currentRev

	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		for _, r := range records {
			value, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := bucket.Put(runKey(rev, r.Key()), value); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64Bytes(rev))
	})
	if err != nil {
		j.currentRev--
		return 0, fmt.Errorf("append run: %w", err)
	}

	for _, r := range records {
		j.observe(r, rev)
	}
	j.markDisappeared(rev)

	return rev, nil
}

// Run returns the records stored at a revision.
func (j *Journal) Run(rev int64) ([]types.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var records []types.Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		prefix := revPrefix(rev)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r types.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read run %d: %w", rev, err)
	}
	return records, nil
}

// CurrentRevision returns the latest run revision, zero before any run.
func (j *Journal) CurrentRevision() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.currentRev
}

// Latest returns the index entries of resources present in the newest run.
func (j *Journal) Latest() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var entries []Entry
	j.index.Ascend(func(e *Entry) bool {
		if !e.Gone {
			entries = append(entries, *e)
		}
		return true
	})
	return entries
}

// Diff compares two revisions and reports keys added and removed between
// them.
func (j *Journal) Diff(fromRev, toRev int64) (added, removed []string, err error) {
	fromRecords, err := j.Run(fromRev)
	if err != nil {
		return nil, nil, err
	}
	toRecords, err := j.Run(toRev)
	if err != nil {
		return nil, nil, err
	}

	from := make(map[string]bool, len(fromRecords))
	for _, r := range fromRecords {
		from[r.Key()] = true
	}
	to := make(map[string]bool, len(toRecords))
	for _, r := range toRecords {
		to[r.Key()] = true
	}

	for key := range to {
		if !from[key] {
			added = append(added, key)
		}
	}
	for key := range from {
		if !to[key] {
			removed = append(removed, key)
		}
	}
	return added, removed, nil
}

// Compact drops run data older than the newest keepRuns revisions. The index
// is unaffected.
func (j *Journal) Compact(keepRuns int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.currentRev - keepRuns
	if cutoff <= 0 {
		return nil
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if parseRev(k) <= cutoff {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *Journal) observe(r types.Record, rev int64) {
	probe := &Entry{Key: r.Key()}
	existing, found := j.index.Get(probe)
	if !found {
		existing = &Entry{
			Key:          r.Key(),
			Kind:         r.Kind,
			AccountID:    r.AccountID,
			FirstSeenRev: rev,
		}
	}
	existing.Region = r.Region
	existing.MonthlyCost = r.MonthlyCost
	existing.LastSeenRev = rev
	existing.Gone = false
	j.index.ReplaceOrInsert(existing)
}

func (j *Journal) markDisappeared(rev int64) {
	j.index.Ascend(func(e *Entry) bool {
		if e.LastSeenRev < rev {
			e.Gone = true
		}
		return true
	})
}

// load restores the revision counter and rebuilds the index from disk.
func (j *Journal) load() error {
	err := j.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyCurrentRevision); data != nil {
			j.currentRev = bytesInt64(data)
		}

		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r types.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			j.observe(r, parseRev(k))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	j.markDisappeared(j.currentRev)
	return nil
}

func runKey(rev int64, resourceKey string) []byte {
	return []byte(fmt.Sprintf("%016d:%s", rev, resourceKey))
}

func revPrefix(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d:", rev))
}

func parseRev(key []byte) int64 {
	var rev int64
	fmt.Sscanf(string(key), "%016d:", &rev)
	return rev
}

func int64Bytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesInt64(b []byte) int64 {
	var n int64
	fmt.Sscanf(string(b), "%d", &n)
	return n
}
