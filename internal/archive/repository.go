package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrDuplicateBattle means this session's result was already archived.
var ErrDuplicateBattle = errors.New("battle result already archived")

// Record is one finished battle as seen from this client.
type Record struct {
	SessionUUID string
	BattleID    string
	Username    string
	Format      string
	Winner      string
	Tie         bool
	Turn        int
	FinishedAt  time.Time
}

// Recorder archives finished battles. The archive is best-effort: callers
// log failures and carry on.
type Recorder interface {
	InsertBattle(ctx context.Context, rec *Record) (int64, error)
	Close() error
}

type repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (Recorder, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &repository{db: db}, nil
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *repository) InsertBattle(ctx context.Context, rec *Record) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("nil battle record")
	}

	const query = `
		INSERT INTO battle_records (
			session_uuid,
			battle_id,
			username,
			format,
			winner,
			tie,
			turn,
			finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err := r.db.QueryRowContext(
		ctx,
		query,
		rec.SessionUUID,
		rec.BattleID,
		rec.Username,
		rec.Format,
		rec.Winner,
		rec.Tie,
		rec.Turn,
		rec.FinishedAt,
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateBattle
	}
	if err != nil {
		return 0, fmt.Errorf("insert battle record: %w", err)
	}
	return id.Int64, nil
}
