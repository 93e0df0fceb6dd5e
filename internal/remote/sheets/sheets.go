// Package sheets backs the remote store with a Google Sheets spreadsheet.
// Each synced collection occupies one row: column A holds the key, column
// B the JSON value. Change detection is a polling loop, since the Sheets
// API offers no push channel for cell edits.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"saldo/internal/remote"
)

// Options configures the store.
type Options struct {
	SpreadsheetID string
	SheetName     string

	// OAuth client and token, as raw JSON.
	ClientJSON []byte
	TokenJSON  []byte

	PollInterval time.Duration
}

type Store struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	poll          time.Duration

	mu       sync.Mutex
	subs     map[string]map[int]func([]byte)
	nextSub  int
	lastSeen map[string]string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

var _ remote.Store = (*Store)(nil)

// New builds a Sheets-backed store and verifies the credentials with one
// initial read.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if opts.SheetName == "" {
		return nil, errors.New("missing sheet name")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}

	conf, err := google.ConfigFromJSON(opts.ClientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(opts.TokenJSON, &token); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(conf.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	s := &Store{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		sheetName:     opts.SheetName,
		poll:          opts.PollInterval,
		subs:          make(map[string]map[int]func([]byte)),
		lastSeen:      make(map[string]string),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if _, err := s.readAll(ctx); err != nil {
		return nil, fmt.Errorf("initial spreadsheet read: %w", err)
	}

	go s.pollLoop(ctx)
	slog.InfoContext(ctx, "Sheets remote store ready",
		"spreadsheet_id", opts.SpreadsheetID,
		"sheet", opts.SheetName,
		"poll_interval", opts.PollInterval)
	return s, nil
}

// Close stops the polling loop.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := rows[key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	rows, err := s.keyRows(ctx)
	if err != nil {
		return err
	}

	vr := &gsheet.ValueRange{Values: [][]any{{key, string(value)}}}
	if row, ok := rows[key]; ok {
		rng := fmt.Sprintf("%s!A%d:B%d", s.sheetName, row, row)
		_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do()
	} else {
		rng := fmt.Sprintf("%s!A:B", s.sheetName)
		_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	// Our own write is not a remote change; remember it so the poller
	// stays quiet.
	s.mu.Lock()
	s.lastSeen[key] = string(value)
	s.mu.Unlock()
	return nil
}

func (s *Store) Subscribe(key string, onChange func(value []byte)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func([]byte))
	}
	s.subs[key][id] = onChange
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}, nil
}

// readAll fetches every key/value row.
func (s *Store) readAll(ctx context.Context) (map[string]string, error) {
	rng := fmt.Sprintf("%s!A:B", s.sheetName)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out := make(map[string]string, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) < 2 {
			continue
		}
		key, _ := row[0].(string)
		value, _ := row[1].(string)
		if key != "" {
			out[key] = value
		}
	}
	return out, nil
}

// keyRows maps keys to their 1-based row numbers.
func (s *Store) keyRows(ctx context.Context) (map[string]int, error) {
	rng := fmt.Sprintf("%s!A:A", s.sheetName)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if key, _ := row[0].(string); key != "" {
			out[key] = i + 1
		}
	}
	return out, nil
}

func (s *Store) pollLoop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Store) pollOnce(ctx context.Context) {
	rows, err := s.readAll(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Sheets poll failed", "error", err)
		return
	}

	type dispatch struct {
		fns   []func([]byte)
		value []byte
	}
	var pending []dispatch

	s.mu.Lock()
	for key, value := range rows {
		if s.lastSeen[key] == value {
			continue
		}
		s.lastSeen[key] = value
		listeners := s.subs[key]
		if len(listeners) == 0 {
			continue
		}
		d := dispatch{value: []byte(value)}
		for _, fn := range listeners {
			d.fns = append(d.fns, fn)
		}
		pending = append(pending, d)
	}
	s.mu.Unlock()

	for _, d := range pending {
		for _, fn := range d.fns {
			fn(d.value)
		}
	}
}
