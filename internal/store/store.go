package store

import (
	"context"
	"database/sql"
	errs "errors"
	"time"

	"github.com/DaanHessen/taleweaver/internal/session"
	"github.com/DaanHessen/taleweaver/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNoChange = errs.New("no change")
	ErrNotFound = errs.New("save not found")
)

// DB wraps gorm.DB for repositories and exposes Close.
type DB struct {
	gorm *gorm.DB
	sql  *sql.DB
}

func (d *DB) Close() error   { return d.sql.Close() }
func (d *DB) Gorm() *gorm.DB { return d.gorm }

// Open connects to DB per config.
func Open(ctx context.Context, cfg util.Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("missing DSN")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	sdb, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sdb.SetConnMaxLifetime(30 * time.Minute)
	sdb.SetMaxOpenConns(10)
	sdb.SetMaxIdleConns(5)
	if err := sdb.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}
	return &DB{gorm: gdb, sql: sdb}, nil
}

// WithTx executes fn within a database transaction.
func (d *DB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.gorm.WithContext(ctx).Transaction(fn)
}

// Save is one archived story, keyed by the service's save key.
type Save struct {
	ID        uuid.UUID
	GameID    int
	SaveKey   string
	Title     string
	Theme     string
	Timeframe string
	Details   string
	Turns     int
	UpdatedAt time.Time
}

type SaveRepo struct{ db *DB }

func NewSaveRepo(db *DB) *SaveRepo { return &SaveRepo{db: db} }

// Upsert inserts or refreshes a save by key and returns its row ID.
func (r *SaveRepo) Upsert(ctx context.Context, tx *gorm.DB, s Save) (uuid.UUID, error) {
	if tx == nil {
		tx = r.db.gorm
	}
	id := s.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := tx.WithContext(ctx).Raw(`INSERT INTO saves(id, game_id, save_key, title, theme, timeframe, details, turns, updated_at)
	VALUES (?,?,?,?,?,?,?,?,now())
	ON CONFLICT (save_key) DO UPDATE SET title=EXCLUDED.title, turns=EXCLUDED.turns,
		theme=COALESCE(NULLIF(EXCLUDED.theme, ''), saves.theme),
		timeframe=COALESCE(NULLIF(EXCLUDED.timeframe, ''), saves.timeframe),
		details=COALESCE(NULLIF(EXCLUDED.details, ''), saves.details),
		updated_at=now()
	RETURNING id`, id, s.GameID, s.SaveKey, s.Title, s.Theme, s.Timeframe, s.Details, s.Turns).Row()
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, wrap(err, "upsert save")
	}
	return id, nil
}

// List returns archived saves, most recently played first.
func (r *SaveRepo) List(ctx context.Context, limit int) ([]Save, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.gorm.WithContext(ctx).Raw(`SELECT id, game_id, save_key, title, theme, timeframe, details, turns, updated_at
	FROM saves ORDER BY updated_at DESC LIMIT ?`, limit).Rows()
	if err != nil {
		return nil, wrap(err, "list saves")
	}
	defer rows.Close()
	var out []Save
	for rows.Next() {
		var s Save
		if err := rows.Scan(&s.ID, &s.GameID, &s.SaveKey, &s.Title, &s.Theme, &s.Timeframe, &s.Details, &s.Turns, &s.UpdatedAt); err != nil {
			return nil, wrap(err, "scan save")
		}
		out = append(out, s)
	}
	return out, wrap(rows.Err(), "list saves")
}

func (r *SaveRepo) GetByKey(ctx context.Context, key string) (Save, error) {
	row := r.db.gorm.WithContext(ctx).Raw(`SELECT id, game_id, save_key, title, theme, timeframe, details, turns, updated_at
	FROM saves WHERE save_key = ?`, key).Row()
	var s Save
	err := row.Scan(&s.ID, &s.GameID, &s.SaveKey, &s.Title, &s.Theme, &s.Timeframe, &s.Details, &s.Turns, &s.UpdatedAt)
	if errs.Is(err, sql.ErrNoRows) {
		return Save{}, ErrNotFound
	}
	if err != nil {
		return Save{}, wrap(err, "get save")
	}
	return s, nil
}

type TranscriptRepo struct{ db *DB }

func NewTranscriptRepo(db *DB) *TranscriptRepo { return &TranscriptRepo{db: db} }

// Replace swaps the stored transcript of a save for turns.
func (tr *TranscriptRepo) Replace(ctx context.Context, tx *gorm.DB, saveID uuid.UUID, turns []session.Turn) error {
	tx = tx.WithContext(ctx)
	if err := tx.Exec(`DELETE FROM transcript_turns WHERE save_id = ?`, saveID).Error; err != nil {
		return wrap(err, "clear transcript")
	}
	for i, t := range turns {
		if err := tx.Exec(`INSERT INTO transcript_turns(id, save_id, idx, writer, text, turn_label) VALUES (?,?,?,?,?,?)`,
			uuid.New(), saveID, i, string(t.Writer), t.Text, t.Turn.String()).Error; err != nil {
			return wrap(err, "insert transcript turn")
		}
	}
	return nil
}

func (tr *TranscriptRepo) Load(ctx context.Context, saveID uuid.UUID) ([]session.Turn, error) {
	rows, err := tr.db.gorm.WithContext(ctx).Raw(`SELECT writer, text, turn_label FROM transcript_turns WHERE save_id = ? ORDER BY idx`, saveID).Rows()
	if err != nil {
		return nil, wrap(err, "load transcript")
	}
	defer rows.Close()
	var out []session.Turn
	for rows.Next() {
		var writer, text, label string
		if err := rows.Scan(&writer, &text, &label); err != nil {
			return nil, wrap(err, "scan transcript")
		}
		out = append(out, session.Turn{Writer: session.Writer(writer), Text: text, Turn: session.ParseTurnLabel(label)})
	}
	return out, wrap(rows.Err(), "load transcript")
}

// Archiver writes session snapshots to the archive.
type Archiver struct {
	db          *DB
	saves       *SaveRepo
	transcripts *TranscriptRepo
}

func NewArchiver(db *DB) *Archiver {
	return &Archiver{db: db, saves: NewSaveRepo(db), transcripts: NewTranscriptRepo(db)}
}

// Archive stores the snapshot's metadata and full history in one transaction.
// setup may be empty when the story was loaded rather than created here.
func (a *Archiver) Archive(ctx context.Context, snap session.Snapshot, setup session.Setup) error {
	if snap.SaveKey == "" {
		return nil
	}
	return a.db.WithTx(ctx, func(tx *gorm.DB) error {
		id, err := a.saves.Upsert(ctx, tx, Save{
			GameID:    snap.GameID,
			SaveKey:   snap.SaveKey,
			Title:     snap.Title,
			Theme:     setup.Theme,
			Timeframe: setup.Timeframe,
			Details:   setup.Details,
			Turns:     snap.TurnCounter,
		})
		if err != nil {
			return err
		}
		return a.transcripts.Replace(ctx, tx, id, snap.History)
	})
}

func (a *Archiver) Saves() *SaveRepo             { return a.saves }
func (a *Archiver) Transcripts() *TranscriptRepo { return a.transcripts }

// Helper error wrap
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
