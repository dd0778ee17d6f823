// Package pebble is an embedded, single-node implementation of the pool,
// answer and audit stores on top of cockroachdb/pebble.
package pebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

var ErrClosed = errors.New("pebble: store is closed")

var (
	prefixPool   = []byte("pool/")
	prefixAnswer = []byte("answer/")
	prefixAudit  = []byte("audit/")
)

// Store keeps every record as JSON under a typed key prefix.
type Store struct {
	db       *pebble.DB
	mu       sync.RWMutex
	closed   bool
	auditSeq uint64
}

var (
	_ domain.PoolStore   = (*Store)(nil)
	_ domain.AnswerStore = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)

// Open opens (or creates) the store in dir.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
	})
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}
	s := &Store{db: db}
	seq, err := s.lastAuditSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.auditSeq = seq
	return s, nil
}

// Close flushes and closes the database. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func poolKey(addr common.Address) []byte {
	return append(slices.Clone(prefixPool), strings.ToLower(addr.Hex())...)
}

func answerKey(id common.Hash) []byte {
	return append(slices.Clone(prefixAnswer), id.Bytes()...)
}

func auditKey(seq uint64) []byte {
	k := slices.Clone(prefixAudit)
	return binary.BigEndian.AppendUint64(k, seq)
}

// upperBound is the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := slices.Clone(prefix)
	end[len(end)-1]++
	return end
}

func (s *Store) get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(value), nil
}

func (s *Store) put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Set(key, value, pebble.Sync)
}

// scan calls fn with every value under prefix, in key order.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		v, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// SavePool replaces the snapshot stored for the pool.
func (s *Store) SavePool(_ context.Context, snap domain.PoolSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("pebble: marshal pool %s: %w", snap.Address.Hex(), err)
	}
	if err := s.put(poolKey(snap.Address), data); err != nil {
		return fmt.Errorf("pebble: save pool %s: %w", snap.Address.Hex(), err)
	}
	return nil
}

func (s *Store) GetPool(_ context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	data, err := s.get(poolKey(addr))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PoolSnapshot{}, err
		}
		return domain.PoolSnapshot{}, fmt.Errorf("pebble: get pool %s: %w", addr.Hex(), err)
	}
	var snap domain.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pebble: unmarshal pool %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

// ListPools returns snapshots ordered by most recent update.
func (s *Store) ListPools(_ context.Context, opts domain.ListOpts) ([]domain.PoolSnapshot, error) {
	var out []domain.PoolSnapshot
	err := s.scan(prefixPool, func(_, value []byte) error {
		var snap domain.PoolSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return err
		}
		if opts.State != nil && snap.State != *opts.State {
			return nil
		}
		if !inWindow(snap.UpdatedAt, opts) {
			return nil
		}
		out = append(out, snap)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: list pools: %w", err)
	}
	slices.SortStableFunc(out, func(a, b domain.PoolSnapshot) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return paginate(out, opts), nil
}

func (s *Store) SaveAnswer(_ context.Context, questionID, answer common.Hash) error {
	key := answerKey(questionID)
	if _, err := s.get(key); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("pebble: check answer %s: %w", questionID.Hex(), err)
	}
	if err := s.put(key, answer.Bytes()); err != nil {
		return fmt.Errorf("pebble: save answer %s: %w", questionID.Hex(), err)
	}
	return nil
}

func (s *Store) ListAnswers(_ context.Context) (map[common.Hash]common.Hash, error) {
	out := make(map[common.Hash]common.Hash)
	err := s.scan(prefixAnswer, func(key, value []byte) error {
		out[common.BytesToHash(key[len(prefixAnswer):])] = common.BytesToHash(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: list answers: %w", err)
	}
	return out, nil
}

type auditRecord struct {
	Event     string         `json:"event"`
	Pool      common.Address `json:"pool"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Log appends an audit entry under the next sequence number.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	data, err := json.Marshal(auditRecord{
		Event:     event,
		Pool:      domain.AuditPool(detail),
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("pebble: marshal audit detail: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.auditSeq++
	if err := s.db.Set(auditKey(s.auditSeq), data, pebble.Sync); err != nil {
		s.auditSeq--
		return fmt.Errorf("pebble: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first unless opts.Ascending is set.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.scan(prefixAudit, func(key, value []byte) error {
		var rec auditRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if !inWindow(rec.CreatedAt, opts) {
			return nil
		}
		if opts.Pool != nil && rec.Pool != *opts.Pool {
			return nil
		}
		out = append(out, domain.AuditEntry{
			ID:        int64(binary.BigEndian.Uint64(key[len(prefixAudit):])),
			Event:     rec.Event,
			Pool:      rec.Pool,
			Detail:    rec.Detail,
			CreatedAt: rec.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: list audit entries: %w", err)
	}
	// Keys sort by sequence, so the scan is already oldest first.
	if !opts.Ascending {
		slices.Reverse(out)
	}
	return paginate(out, opts), nil
}

func (s *Store) lastAuditSeq() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixAudit, UpperBound: upperBound(prefixAudit)})
	if err != nil {
		return 0, fmt.Errorf("pebble: open audit iterator: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return binary.BigEndian.Uint64(iter.Key()[len(prefixAudit):]), nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
