// Package memory is a process-local implementation of the repository
// contracts, used by tests and by STORAGE_DRIVER=memory.
//
// Transactions are serialised: BeginTx blocks until the previous transaction
// commits or rolls back, and every write made through a tx is undone on
// Rollback. Reads outside a tx see uncommitted writes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"royalty-service/internal/domain/catalog"
	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	"royalty-service/internal/domain/view"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type userRow struct {
	ID        int64
	Tier      user.Tier
	CreatedAt time.Time
}

type historyKey struct {
	userID, videoID int64
}

type eventRow struct {
	UserID    int64
	VideoID   int64
	CreatedAt time.Time
}

type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	// Now stamps rows the store creates itself.
	Now func() time.Time

	users     map[int64]*userRow
	creators  map[int64]*catalog.Creator
	videos    map[int64]*catalog.Video
	views     map[int64]*view.Record
	history   map[historyKey]*view.WatchHistory
	likes     []eventRow
	downloads []eventRow
	subs      map[int64]*subscription.Subscription
	payments  map[int64]*payment.Payment

	seq int64
}

func NewStore() *Store {
	return &Store{
		Now:      time.Now,
		users:    map[int64]*userRow{},
		creators: map[int64]*catalog.Creator{},
		videos:   map[int64]*catalog.Video{},
		views:    map[int64]*view.Record{},
		history:  map[historyKey]*view.WatchHistory{},
		subs:     map[int64]*subscription.Subscription{},
		payments: map[int64]*payment.Payment{},
	}
}

// nextID must be called with mu held.
func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

var errForeignTx = errors.New("memory: transaction was not started by this store")

type memTx struct {
	pgx.Tx // nil; only Commit and Rollback are supported

	store *Store
	undo  []func()
	done  bool
}

// BeginTx blocks until any open transaction finishes.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &memTx{store: s}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()

	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

// record must be called with mu held.
func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func asTx(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.done {
		return nil, errForeignTx
	}
	return mt, nil
}

// --- seeding ---

func (s *Store) AddUser(tier user.Tier) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.users[id] = &userRow{ID: id, Tier: tier, CreatedAt: s.Now()}
	return id
}

// AddCreator registers a creator for userID. A zero royalty uses the default share.
func (s *Store) AddCreator(userID int64, name string, royalty decimal.Decimal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if royalty.IsZero() {
		royalty = catalog.DefaultRoyaltyPercentage
	}
	id := s.nextID()
	s.creators[id] = &catalog.Creator{
		ID: id, UserID: userID, DisplayName: name, RoyaltyPercentage: royalty, CreatedAt: s.Now(),
	}
	return id
}

func (s *Store) AddVideo(creatorID int64, title string, durationSeconds int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.videos[id] = &catalog.Video{
		ID: id, CreatorID: creatorID, Title: title, DurationSeconds: durationSeconds, CreatedAt: s.Now(),
	}
	return id
}

func (s *Store) AddLike(userID, videoID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes = append(s.likes, eventRow{UserID: userID, VideoID: videoID, CreatedAt: at})
}

func (s *Store) AddDownload(userID, videoID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, eventRow{UserID: userID, VideoID: videoID, CreatedAt: at})
}

// Seed loads a small demo catalogue for STORAGE_DRIVER=memory.
func (s *Store) Seed() {
	s.AddUser(user.TierAdmin)
	creatorUser := s.AddUser(user.TierClient)
	s.AddUser(user.TierClient)

	creator := s.AddCreator(creatorUser, "Demo Studio", decimal.Zero)
	s.AddVideo(creator, "Getting Started", 600)
	s.AddVideo(creator, "Deep Dive", 1800)
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, xerrors.ErrNotFound)
}
