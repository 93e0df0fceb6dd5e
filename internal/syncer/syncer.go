package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/remote"
)

// Config tunes the flush loop.
type Config struct {
	// FlushInterval is how often the loop checks for dirty collections
	// and the initial retry delay after a failed push.
	FlushInterval time.Duration

	// BackoffMax caps the exponential retry delay.
	BackoffMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
}

// Status is a point-in-time snapshot of the sync state.
type Status struct {
	Online      bool      `json:"online"`
	Dirty       []Kind    `json:"dirty"`
	LastAttempt time.Time `json:"lastAttempt"`
	LastError   string    `json:"lastError,omitempty"`
	RetryDelay  string    `json:"retryDelay,omitempty"`
}

// Syncer runs the background reconciliation between the ledger service
// and the remote store.
type Syncer struct {
	svc    *ledger.Service
	store  remote.Store
	queue  *Queue
	cfg    Config
	trigCh chan struct{}

	mu          sync.Mutex
	online      bool
	lastAttempt time.Time
	lastErr     error
	backoff     time.Duration

	unsubs []func()
	stopCh chan struct{}
	doneCh chan struct{}
}

// New wires a syncer. The queue must be the same one the service marks
// dirty through.
func New(svc *ledger.Service, store remote.Store, queue *Queue, cfg Config) *Syncer {
	cfg.applyDefaults()
	return &Syncer{
		svc:    svc,
		store:  store,
		queue:  queue,
		cfg:    cfg,
		trigCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to remote changes and launches the flush loop.
func (s *Syncer) Start(ctx context.Context) error {
	subs := map[Kind]func(context.Context, []byte){
		KindTransactions:    s.handleRemoteTransactions,
		KindCards:           s.handleRemoteCards,
		KindStartingBalance: s.handleRemoteStartingBalance,
	}
	for kind, handler := range subs {
		kind, handler := kind, handler
		unsub, err := s.store.Subscribe(kind, func(value []byte) {
			handler(context.Background(), value)
		})
		if err != nil {
			s.stopSubscriptions()
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		s.unsubs = append(s.unsubs, unsub)
	}

	go s.run(ctx)
	slog.InfoContext(ctx, "Syncer started",
		"flush_interval", s.cfg.FlushInterval,
		"backoff_max", s.cfg.BackoffMax)
	return nil
}

// Stop unsubscribes and waits for the flush loop to exit.
func (s *Syncer) Stop(ctx context.Context) error {
	s.stopSubscriptions()
	close(s.stopCh)
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) stopSubscriptions() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// TriggerFlush requests an immediate flush attempt, bypassing the current
// backoff delay. Callers use it when the app regains focus or the user
// asks for a manual sync.
func (s *Syncer) TriggerFlush() {
	select {
	case s.trigCh <- struct{}{}:
	default:
	}
}

// Status reports the current sync state.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Online:      s.online,
		Dirty:       s.queue.Snapshot(),
		LastAttempt: s.lastAttempt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.backoff > 0 {
		st.RetryDelay = s.backoff.String()
	}
	return st
}

// Online reports whether the last remote interaction succeeded.
func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		delay := s.cfg.FlushInterval
		s.mu.Lock()
		if s.backoff > delay {
			delay = s.backoff
		}
		s.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-s.stopCh:
			timer.Stop()
			// Last chance to push what is pending before shutdown.
			if s.queue.Len() > 0 {
				s.Flush(ctx)
			}
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.trigCh:
			timer.Stop()
		case <-timer.C:
		}

		if s.queue.Len() == 0 {
			continue
		}
		if err := s.Flush(ctx); err != nil {
			slog.WarnContext(ctx, "Flush failed, will retry",
				"error", err,
				"retry_in", s.retryDelay())
		}
	}
}

// Flush pushes every dirty collection to the remote. The queue is cleared
// optimistically before the push so edits landing mid-flight re-dirty
// their kinds instead of being lost; on failure the taken kinds are
// unioned back in and the backoff grows.
func (s *Syncer) Flush(ctx context.Context) error {
	kinds := s.queue.Take(ctx)
	if len(kinds) == 0 {
		return nil
	}

	s.mu.Lock()
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	for i, kind := range kinds {
		blob, err := s.snapshot(kind)
		if err == nil {
			err = s.store.Save(ctx, kind, blob)
		}
		if err != nil {
			// This kind and everything not yet attempted goes back.
			s.queue.Restore(ctx, kinds[i:])
			s.setOffline(err)
			return fmt.Errorf("push %s: %w", kind, err)
		}
	}

	s.setOnline()
	slog.InfoContext(ctx, "Flushed local changes", "kinds", kinds)
	return nil
}

func (s *Syncer) snapshot(kind Kind) ([]byte, error) {
	switch kind {
	case KindTransactions:
		return json.Marshal(s.svc.Store().Transactions())
	case KindCards:
		return json.Marshal(s.svc.Store().Cards())
	case KindStartingBalance:
		return json.Marshal(s.svc.Store().Starting())
	default:
		return nil, fmt.Errorf("unknown collection kind %q", kind)
	}
}

func (s *Syncer) setOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = true
	s.lastErr = nil
	s.backoff = 0
}

func (s *Syncer) setOffline(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = false
	s.lastErr = err
	if s.backoff == 0 {
		s.backoff = s.cfg.FlushInterval
	} else {
		s.backoff *= 2
	}
	if s.backoff > s.cfg.BackoffMax {
		s.backoff = s.cfg.BackoffMax
	}
}

func (s *Syncer) retryDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

func (s *Syncer) handleRemoteTransactions(ctx context.Context, value []byte) {
	var remoteTxs []core.Transaction
	if err := json.Unmarshal(value, &remoteTxs); err != nil {
		slog.ErrorContext(ctx, "Ignoring undecodable remote transactions", "error", err)
		return
	}

	clean := s.Online() && !s.queue.IsDirty(KindTransactions)
	merged := Merge(s.svc.Store().Transactions(), remoteTxs, clean)
	if err := s.svc.ApplyRemoteTransactions(ctx, merged); err != nil {
		slog.ErrorContext(ctx, "Failed to apply merged transactions", "error", err)
		return
	}
	slog.InfoContext(ctx, "Remote transactions merged",
		"remote", len(remoteTxs),
		"merged", len(merged),
		"remote_authoritative", clean)
}

func (s *Syncer) handleRemoteCards(ctx context.Context, value []byte) {
	if s.queue.IsDirty(KindCards) {
		// Local card edits are pending; the flush will overwrite remote.
		slog.InfoContext(ctx, "Ignoring remote cards, local edits pending")
		return
	}
	var cards []core.Card
	if err := json.Unmarshal(value, &cards); err != nil {
		slog.ErrorContext(ctx, "Ignoring undecodable remote cards", "error", err)
		return
	}
	if err := s.svc.ApplyRemoteCards(ctx, cards); err != nil {
		slog.ErrorContext(ctx, "Failed to apply remote cards", "error", err)
	}
}

func (s *Syncer) handleRemoteStartingBalance(ctx context.Context, value []byte) {
	if s.queue.IsDirty(KindStartingBalance) {
		slog.InfoContext(ctx, "Ignoring remote starting balance, local edit pending")
		return
	}
	var sb ledger.StartingBalance
	if err := json.Unmarshal(value, &sb); err != nil {
		slog.ErrorContext(ctx, "Ignoring undecodable remote starting balance", "error", err)
		return
	}
	if err := s.svc.ApplyRemoteStartingBalance(ctx, sb); err != nil {
		slog.ErrorContext(ctx, "Failed to apply remote starting balance", "error", err)
	}
}
