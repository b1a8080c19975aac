// Package savedb keeps the latest verified snapshot of every profile in
// SQLite, with a short ring of older saves to fall back on.
package savedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/sim/simerr"
)

const (
	schemaVersion = "1"
	DefaultKeep   = 3
)

var errClosed = errors.New("savedb: store closed")

type Store struct {
	db   *sql.DB
	keep int
	log  logrus.FieldLogger
	now  func() time.Time

	mirror *Mirror

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu guards ch against sends racing its close.
	mu     sync.RWMutex
	closed bool

	dropSaveTotal  atomic.Uint64
	writeTotal     atomic.Uint64
	writeFailTotal atomic.Uint64
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqDelete
	reqRestore
	reqBarrier
)

type req struct {
	kind    reqKind
	profile string
	snap    snapshot.Snapshot
	step    uint64
	done    chan error
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropSaveTotal  uint64
	WriteTotal     uint64
	WriteFailTotal uint64
}

type Options struct {
	// Keep is the number of superseded saves retained per profile.
	Keep     int
	QueueCap int
	Log      logrus.FieldLogger
	Mirror   *Mirror
}

func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 1024
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	s := &Store{
		db:     db,
		keep:   opts.Keep,
		log:    opts.Log,
		now:    time.Now,
		mirror: opts.Mirror,
		ch:     make(chan req, opts.QueueCap),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			profile TEXT PRIMARY KEY,
			step INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			state BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS backups (
			profile TEXT NOT NULL,
			step INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			state BLOB NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (profile, step)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued saves and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropSaveTotal:  s.dropSaveTotal.Load(),
		WriteTotal:     s.writeTotal.Load(),
		WriteFailTotal: s.writeFailTotal.Load(),
	}
}

// SaveState queues snap as the profile's current save. It never blocks the
// caller; when the queue is full the save is dropped and counted, and the
// next checkpoint supersedes it anyway.
func (s *Store) SaveState(profile string, snap snapshot.Snapshot) error {
	if s == nil {
		return nil
	}
	if profile == "" {
		return simerr.Protocolf("savedb.save", "empty profile")
	}
	if !snapshot.Verify(snap.Bytes, snap.Checksum) {
		return simerr.Integrityf("savedb.save", "snapshot at step %d does not match its checksum", snap.Step)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- req{kind: reqSave, profile: profile, snap: snap}:
	default:
		s.dropSaveTotal.Add(1)
	}
	return nil
}

// Flush waits until every save queued before the call has been written.
func (s *Store) Flush(ctx context.Context) error {
	return s.do(ctx, req{kind: reqBarrier})
}

// Delete removes a profile and its backups.
func (s *Store) Delete(ctx context.Context, profile string) error {
	return s.do(ctx, req{kind: reqDelete, profile: profile})
}

// RestoreBackup promotes the backup taken at step to the profile's current
// save. The previous current save becomes a backup.
func (s *Store) RestoreBackup(ctx context.Context, profile string, step uint64) error {
	return s.do(ctx, req{kind: reqRestore, profile: profile, step: step})
}

func (s *Store) do(ctx context.Context, r req) error {
	if s == nil {
		return errClosed
	}
	r.done = make(chan error, 1)
	if err := s.enqueue(ctx, r); err != nil {
		return err
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) enqueue(ctx context.Context, r req) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadState returns the profile's current save. A missing profile is
// simerr.ErrNotFound; a save whose bytes no longer match their checksum is an
// integrity error.
func (s *Store) LoadState(ctx context.Context, profile string) (snapshot.Snapshot, error) {
	const op = "savedb.load"
	var snap snapshot.Snapshot
	var step int64
	err := s.db.QueryRowContext(ctx,
		`SELECT step, checksum, state FROM profiles WHERE profile=?`, profile,
	).Scan(&step, &snap.Checksum, &snap.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, simerr.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	snap.Step = uint64(step)
	if !snapshot.Verify(snap.Bytes, snap.Checksum) {
		return snapshot.Snapshot{}, simerr.Integrityf(op, "profile %q: stored state does not match checksum %s", profile, snap.Checksum)
	}
	return snap, nil
}

// LoadBackup returns one backup by step, verified like LoadState.
func (s *Store) LoadBackup(ctx context.Context, profile string, step uint64) (snapshot.Snapshot, error) {
	const op = "savedb.backup"
	snap := snapshot.Snapshot{Step: step}
	err := s.db.QueryRowContext(ctx,
		`SELECT checksum, state FROM backups WHERE profile=? AND step=?`, profile, int64(step),
	).Scan(&snap.Checksum, &snap.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, simerr.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if !snapshot.Verify(snap.Bytes, snap.Checksum) {
		return snapshot.Snapshot{}, simerr.Integrityf(op, "profile %q backup %d does not match its checksum", profile, step)
	}
	return snap, nil
}

type ProfileInfo struct {
	Profile   string
	Step      uint64
	Checksum  string
	Size      int
	UpdatedAt time.Time
	Backups   int
}

func (s *Store) Profiles(ctx context.Context) ([]ProfileInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.profile, p.step, p.checksum, length(p.state), p.updated_at,
			(SELECT count(*) FROM backups b WHERE b.profile = p.profile)
		FROM profiles p ORDER BY p.profile`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProfileInfo
	for rows.Next() {
		var (
			p    ProfileInfo
			step int64
			ts   string
		)
		if err := rows.Scan(&p.Profile, &step, &p.Checksum, &p.Size, &ts, &p.Backups); err != nil {
			return nil, err
		}
		p.Step = uint64(step)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

type BackupInfo struct {
	Step     uint64
	Checksum string
	Size     int
	SavedAt  time.Time
}

// Backups lists a profile's backups, newest first.
func (s *Store) Backups(ctx context.Context, profile string) ([]BackupInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, checksum, length(state), saved_at FROM backups WHERE profile=? ORDER BY step DESC`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BackupInfo
	for rows.Next() {
		var (
			b    BackupInfo
			step int64
			ts   string
		)
		if err := rows.Scan(&step, &b.Checksum, &b.Size, &ts); err != nil {
			return nil, err
		}
		b.Step = uint64(step)
		b.SavedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) loop() {
	ctx := context.Background()
	for r := range s.ch {
		var err error
		switch r.kind {
		case reqSave:
			err = s.write(ctx, r.profile, r.snap)
			if err == nil && s.mirror != nil {
				s.mirror.Record(r.profile, r.snap)
			}
		case reqDelete:
			err = s.delete(ctx, r.profile)
		case reqRestore:
			err = s.restore(ctx, r.profile, r.step)
		case reqBarrier:
		}
		if r.kind != reqBarrier {
			if err != nil {
				s.writeFailTotal.Add(1)
				s.log.WithError(err).WithField("profile", r.profile).Warn("savedb write failed")
			} else {
				s.writeTotal.Add(1)
			}
		}
		if r.done != nil {
			r.done <- err
		}
	}
}

// write rotates the current save into backups, stores snap and prunes the
// ring to keep entries. A save at the current step replaces it in place.
func (s *Store) write(ctx context.Context, profile string, snap snapshot.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := s.now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO backups(profile, step, checksum, state, saved_at)
		SELECT profile, step, checksum, state, updated_at FROM profiles
		WHERE profile=? AND step<>?`, profile, int64(snap.Step)); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO profiles(profile, step, checksum, state, updated_at)
		VALUES(?,?,?,?,?)`, profile, int64(snap.Step), snap.Checksum, snap.Bytes, now); err != nil {
		return err
	}
	if err := s.prune(tx, profile); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) prune(tx *sql.Tx, profile string) error {
	_, err := tx.Exec(`
		DELETE FROM backups WHERE profile=? AND step NOT IN (
			SELECT step FROM backups WHERE profile=? ORDER BY step DESC LIMIT ?
		)`, profile, profile, s.keep)
	return err
}

func (s *Store) delete(ctx context.Context, profile string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.Exec(`DELETE FROM profiles WHERE profile=?`, profile)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM backups WHERE profile=?`, profile); err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return simerr.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) restore(ctx context.Context, profile string, step uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sum   string
		state []byte
	)
	err = tx.QueryRow(`SELECT checksum, state FROM backups WHERE profile=? AND step=?`, profile, int64(step)).Scan(&sum, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return simerr.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !snapshot.Verify(state, sum) {
		return simerr.Integrityf("savedb.restore", "profile %q backup %d does not match its checksum", profile, step)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO backups(profile, step, checksum, state, saved_at)
		SELECT profile, step, checksum, state, updated_at FROM profiles WHERE profile=? AND step<>?`,
		profile, int64(step)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM backups WHERE profile=? AND step=?`, profile, int64(step)); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO profiles(profile, step, checksum, state, updated_at)
		VALUES(?,?,?,?,?)`, profile, int64(step), sum, state, now); err != nil {
		return err
	}
	if err := s.prune(tx, profile); err != nil {
		return err
	}
	return tx.Commit()
}
