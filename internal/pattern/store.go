package pattern

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	rulesBucketName = "rules"
	usageBucketName = "rule_usage"
)

// UsageEvent records that a rule produced a field during one extraction run
type UsageEvent struct {
	RuleID string    `json:"rule_id"`
	Field  string    `json:"field"`
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
}

// Store defines the persistence contract of the registry
type Store interface {
	// SaveRule inserts or replaces a rule
	SaveRule(rule *Rule) error

	// GetRule retrieves a rule by ID
	GetRule(id string) (*Rule, error)

	// ListRules returns every stored rule
	ListRules() ([]*Rule, error)

	// DeleteRule removes a rule
	DeleteRule(id string) error

	// AppendUsage appends events to the usage log
	AppendUsage(events []UsageEvent) error

	// UsageCounts aggregates the usage log per rule ID
	UsageCounts() (map[string]int, error)

	// Close closes the underlying database
	Close() error
}

// BoltDB implements Store using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the registry database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(rulesBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(usageBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveRule saves a rule to the database
func (b *BoltDB) SaveRule(rule *Rule) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rulesBucketName))
		data, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("marshaling rule: %w", err)
		}
		return bucket.Put([]byte(rule.ID), data)
	})
}

// GetRule retrieves a rule by ID
func (b *BoltDB) GetRule(id string) (*Rule, error) {
	var rule *Rule
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rulesBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		return json.Unmarshal(data, &rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns all rules in key order
func (b *BoltDB) ListRules() ([]*Rule, error) {
	rules := make([]*Rule, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rulesBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var rule Rule
			if err := json.Unmarshal(v, &rule); err != nil {
				return fmt.Errorf("unmarshaling rule: %w", err)
			}
			rules = append(rules, &rule)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// DeleteRule removes a rule from the database
func (b *BoltDB) DeleteRule(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(rulesBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// AppendUsage writes events under monotonically increasing sequence keys.
// Existing entries are never rewritten.
func (b *BoltDB) AppendUsage(events []UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucketName))
		for _, ev := range events {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating usage sequence: %w", err)
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshaling usage event: %w", err)
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := bucket.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// UsageCounts folds the usage log into per-rule counts
func (b *BoltDB) UsageCounts() (map[string]int, error) {
	counts := make(map[string]int)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var ev UsageEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("unmarshaling usage event: %w", err)
			}
			counts[ev.RuleID]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
