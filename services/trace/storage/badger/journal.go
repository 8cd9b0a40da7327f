// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/tracegraph/services/trace/entity"
)

// Key layout. Both records of one change share a sequence number, so
// lexical key order is write order.
//
//	ev/<seq>                 entity.Event JSON
//	ver/<type>/<id>/<seq>    entity.Entity JSON
const (
	eventPrefix   = "ev/"
	versionPrefix = "ver/"
	seqWidth      = 20

	contextCheckInterval = 100
)

// ErrCorruptJournal is returned when a stored key or value cannot be decoded.
var ErrCorruptJournal = errors.New("corrupt journal")

var journalWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trace_journal_writes_total",
	Help: "Journal writes by outcome",
}, []string{"outcome"})

// Journal persists store changes to BadgerDB.
//
// # Description
//
// Attach subscribes the journal to a store; from then on every change
// event and the entity version it produced are written in one
// transaction, in store event order. Versions, Events, and Replay read
// them back, including changes written by earlier processes.
//
// Version numbers inside stored entities are the ones the writing store
// assigned. A store rebuilt in a later process numbers from 1 again, so
// readers should order by journal position, not Version.
//
// # Thread Safety
//
// Safe for concurrent use. Writes are serialized.
type Journal struct {
	db     *DB
	logger *slog.Logger

	mu          sync.Mutex
	seq         uint64
	err         error
	unsubscribe func()
}

// NewJournal opens a journal over db, resuming after the last stored event.
//
// # Inputs
//
//   - ctx: Bounds the recovery scan.
//   - db: Open database. The journal does not close it.
//   - logger: Receives write failures. Nil discards.
//
// # Outputs
//
//   - *Journal: Ready to Attach.
//   - error: ErrCorruptJournal if the last event key is malformed.
func NewJournal(ctx context.Context, db *DB, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	j := &Journal{db: db, logger: logger.With(slog.String("component", "journal"))}

	err := db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = []byte(eventPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append([]byte(eventPrefix), 0xFF))
		if !it.ValidForPrefix(opts.Prefix) {
			return nil
		}
		seq, err := parseSeq(it.Item().Key()[len(eventPrefix):])
		if err != nil {
			return err
		}
		j.seq = seq
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recover journal position: %w", err)
	}
	return j, nil
}

// Attach subscribes the journal to every change of store. Calling it again
// replaces the previous subscription.
func (j *Journal) Attach(store *entity.Store) {
	unsubscribe := store.Subscribe(entity.EventFilter{}, func(c entity.Change) {
		if err := j.Record(context.Background(), c); err != nil {
			j.logger.Warn("journal write failed",
				slog.String("event_id", c.Event.ID),
				slog.String("target", c.Event.Target().String()),
				slog.String("error", err.Error()),
			)
		}
	})

	j.mu.Lock()
	prev := j.unsubscribe
	j.unsubscribe = unsubscribe
	j.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Detach ends the store subscription. Stored data is kept.
func (j *Journal) Detach() {
	j.mu.Lock()
	unsubscribe := j.unsubscribe
	j.unsubscribe = nil
	j.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Err returns the first write failure seen by an attached journal.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Record writes one change. Attach calls it for every store change; it is
// exported for feeding changes from elsewhere.
func (j *Journal) Record(ctx context.Context, c entity.Change) error {
	evData, err := json.Marshal(c.Event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", c.Event.ID, err)
	}
	entData, err := json.Marshal(c.Entity)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", c.Entity.Identity(), err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seq + 1
	err = j.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(seq), evData); err != nil {
			return err
		}
		return txn.Set(versionKey(c.Entity.Identity(), seq), entData)
	})
	if err != nil {
		journalWritesTotal.WithLabelValues("error").Inc()
		if j.err == nil {
			j.err = err
		}
		return fmt.Errorf("write change %d: %w", seq, err)
	}
	j.seq = seq
	journalWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Len returns the number of changes written.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Versions returns every stored version of an identity in write order.
func (j *Journal) Versions(ctx context.Context, id string, typ entity.Type) ([]entity.Entity, error) {
	prefix := versionPrefixFor(entity.Identity{ID: id, Type: typ})
	var out []entity.Entity
	err := j.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			// ids may contain '/', so a longer id can share this prefix
			if _, err := parseSeq(item.Key()[len(prefix):]); err != nil {
				continue
			}
			var e entity.Entity
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorruptJournal, item.Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns stored events matching filter in write order.
func (j *Journal) Events(ctx context.Context, filter entity.EventFilter) ([]entity.Event, error) {
	var out []entity.Event
	err := j.Replay(ctx, func(ev entity.Event, _ entity.Entity) error {
		if filter.Match(ev) {
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replay streams every stored change in write order.
//
// # Inputs
//
//   - ctx: Checked every 100 changes.
//   - fn: Receives each event with the entity version it produced. A
//     non-nil return stops the replay and is returned.
func (j *Journal) Replay(ctx context.Context, fn func(entity.Event, entity.Entity) error) error {
	return j.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if n%contextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++

			item := it.Item()
			seq, err := parseSeq(item.Key()[len(eventPrefix):])
			if err != nil {
				return err
			}
			var ev entity.Event
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &ev) }); err != nil {
				return fmt.Errorf("%w: event %d: %v", ErrCorruptJournal, seq, err)
			}

			verItem, err := txn.Get(versionKey(ev.Target(), seq))
			if err != nil {
				return fmt.Errorf("%w: version for event %d: %v", ErrCorruptJournal, seq, err)
			}
			var e entity.Entity
			if err := verItem.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return fmt.Errorf("%w: version %d: %v", ErrCorruptJournal, seq, err)
			}

			if err := fn(ev, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func eventKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%0*d", eventPrefix, seqWidth, seq)
}

func versionPrefixFor(id entity.Identity) []byte {
	return fmt.Appendf(nil, "%s%s/%s/", versionPrefix, id.Type, id.ID)
}

func versionKey(id entity.Identity, seq uint64) []byte {
	return fmt.Appendf(versionPrefixFor(id), "%0*d", seqWidth, seq)
}

func parseSeq(b []byte) (uint64, error) {
	if len(b) != seqWidth {
		return 0, fmt.Errorf("%w: sequence %q", ErrCorruptJournal, b)
	}
	seq, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sequence %q", ErrCorruptJournal, b)
	}
	return seq, nil
}
