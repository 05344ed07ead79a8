// Package history keeps a persistent record of runs, so that repeated runs of one configuration can be checked for
// identical behavior.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/celskeggs/ethsim/sim/harness"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// Entry is the record kept for one run.
type Entry struct {
	RunID       string      `json:"run_id"`
	Scenario    string      `json:"scenario"`
	Digest      string      `json:"digest"`
	Recorded    time.Time   `json:"recorded"`
	Cycles      model.Cycle `json:"cycles"`
	Outcome     string      `json:"outcome"`
	StallDigest string      `json:"stall_digest"`
	Passed      bool        `json:"passed"`
}

func FromResult(r *harness.Result, at time.Time) Entry {
	return Entry{
		RunID:       r.RunID,
		Scenario:    r.Scenario,
		Digest:      r.ScenarioDigest,
		Recorded:    at.UTC(),
		Cycles:      r.Cycles,
		Outcome:     r.Outcome(),
		StallDigest: r.StallDigest,
		Passed:      r.Passed,
	}
}

// Regression describes a run that behaved differently from an earlier run of the same configuration.
type Regression struct {
	Previous Entry
	Current  Entry
	Fields   []string
}

func (r *Regression) Error() string {
	return fmt.Sprintf("run %s of scenario %s differs from run %s of the same configuration in %s",
		r.Current.RunID, r.Current.Scenario, r.Previous.RunID, strings.Join(r.Fields, ", "))
}

func differences(a, b Entry) []string {
	var fields []string
	if a.Cycles != b.Cycles {
		fields = append(fields, fmt.Sprintf("cycles (%d then %d)", a.Cycles, b.Cycles))
	}
	if a.Outcome != b.Outcome {
		fields = append(fields, fmt.Sprintf("outcome (%s then %s)", a.Outcome, b.Outcome))
	}
	if a.StallDigest != b.StallDigest {
		fields = append(fields, "stall pattern")
	}
	return fields
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath is where the CLI keeps its history unless told otherwise.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ethsim", "history.db"), nil
}

// Open opens or creates the store at path, creating parent directories as needed.
func Open(path string) (*Store, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(expanded, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runsBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func decodeBucket(b *bbolt.Bucket) ([]Entry, error) {
	var entries []Entry
	err := b.ForEach(func(k, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("corrupt history entry %x: %w", k, err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Record stores the entry. If an earlier run of the same scenario and configuration digest behaved differently, the
// entry is still stored and the difference is returned as a *Regression error.
func (s *Store) Record(e Entry) error {
	if e.Scenario == "" || e.Digest == "" {
		return errors.New("history entry needs a scenario and a digest")
	}
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var regression *Regression
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(runsBucket).CreateBucketIfNotExists([]byte(e.Scenario))
		if err != nil {
			return err
		}
		previous, err := decodeBucket(b)
		if err != nil {
			return err
		}
		for i := len(previous) - 1; i >= 0; i-- {
			if previous[i].Digest != e.Digest {
				continue
			}
			if fields := differences(previous[i], e); len(fields) > 0 {
				regression = &Regression{Previous: previous[i], Current: e, Fields: fields}
			}
			break
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), value)
	})
	if err != nil {
		return err
	}
	if regression != nil {
		log.WithFields(log.Fields{
			"scenario": e.Scenario,
			"run":      e.RunID,
		}).Warn(regression.Error())
		return regression
	}
	return nil
}

// Scenarios lists every scenario with recorded runs.
func (s *Store) Scenarios() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

// List returns the runs of a scenario in the order recorded, or of every scenario when the name is empty.
func (s *Store) List(scenario string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(runsBucket)
		if scenario != "" {
			b := root.Bucket([]byte(scenario))
			if b == nil {
				return nil
			}
			var err error
			entries, err = decodeBucket(b)
			return err
		}
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			found, err := decodeBucket(root.Bucket(k))
			entries = append(entries, found...)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if scenario == "" {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Recorded.Before(entries[j].Recorded)
		})
	}
	return entries, nil
}
