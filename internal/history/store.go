package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parley-ai/parley/pkg/embeddings"
)

// ErrNotFound is returned by Get when no conversation exists for the ID.
var ErrNotFound = errors.New("history: conversation not found")

// keyPrefix namespaces conversation records inside the database.
const keyPrefix = "conv/"

// Store persists conversations in a Badger database on local disk.
//
// Store is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the Badger database in dir.
//
// The caller owns the returned Store and must Close it. Badger holds an
// exclusive lock on dir, so a second Open of the same directory fails until
// the first Store is closed.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("history: dir must not be empty")
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{slog.Default()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database and its directory lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts a conversation.
//
// When conv.ID is empty a new UUID is assigned and written back to conv.
// CreatedAt is set on first save; UpdatedAt is always set to the current
// time, which is what List orders by.
func (s *Store) Put(ctx context.Context, conv *Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	data, err := msgpack.Marshal(conv)
	if err != nil {
		return fmt.Errorf("history: encode conversation %s: %w", conv.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+conv.ID), data)
	})
	if err != nil {
		return fmt.Errorf("history: put conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Get retrieves a conversation by ID. Returns ErrNotFound when no record
// exists.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get conversation %s: %w", id, err)
	}
	var conv Conversation
	if err := msgpack.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("history: decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Delete removes a conversation. Deleting a non-existent ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("history: delete conversation %s: %w", id, err)
	}
	return nil
}

// List returns summaries of all stored conversations ordered newest first
// (by UpdatedAt). Returns an empty slice when the store is empty.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	convs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, summarize(conv))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// Search ranks stored conversations by cosine similarity between query and
// each conversation's stored embedding vector, returning at most limit
// results ordered by descending score.
//
// Conversations without a stored vector, or whose vector was produced by a
// model other than model, are skipped. A limit of 0 or less applies a
// default of 10.
func (s *Store) Search(ctx context.Context, query []float32, model string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	convs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, conv := range convs {
		if len(conv.Embedding) == 0 || conv.EmbeddingModel != model {
			continue
		}
		results = append(results, SearchResult{
			Summary: summarize(conv),
			Score:   embeddings.Cosine(query, conv.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Summary.UpdatedAt.After(results[j].Summary.UpdatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scan loads and decodes every conversation record. Malformed records are
// skipped with a warning rather than failing the whole listing.
func (s *Store) scan(ctx context.Context) ([]*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(keyPrefix)
	var convs []*Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var conv Conversation
			if err := msgpack.Unmarshal(data, &conv); err != nil {
				slog.Warn("history: skipping malformed record", "key", string(item.KeyCopy(nil)), "error", err)
				continue
			}
			convs = append(convs, &conv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan: %w", err)
	}
	return convs, nil
}

func summarize(conv *Conversation) Summary {
	return Summary{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
	}
}

// badgerLogger adapts slog to badger's Logger interface, keeping badger's
// chatty info and debug output at Debug level. Badger terminates its log
// lines with a newline that slog would print verbatim, hence the trim.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{}) {
	b.l.Error("history: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Warningf(f string, v ...interface{}) {
	b.l.Warn("history: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Infof(f string, v ...interface{}) {
	b.l.Debug("history: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Debugf(f string, v ...interface{}) {
	b.l.Debug("history: badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}
