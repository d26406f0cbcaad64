package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
)

const choreSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	points INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chores (
	id BIGSERIAL PRIMARY KEY,
	house_id BIGINT NOT NULL,
	assigned_to_id BIGINT REFERENCES users(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	points INTEGER NOT NULL DEFAULT 0,
	reference_photo_url TEXT NOT NULL DEFAULT '',
	photo_url TEXT NOT NULL DEFAULT '',
	is_completed BOOLEAN NOT NULL DEFAULT FALSE,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	attempted BOOLEAN NOT NULL DEFAULT FALSE,
	explanation TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const choreColumns = `id, house_id, assigned_to_id, title, description, points,
	reference_photo_url, photo_url, is_completed, verified, attempted, explanation,
	created_at, updated_at`

type PostgresChoreStore struct {
	db *sql.DB
}

func NewPostgresChoreStore(ctx context.Context, dsn string) (*PostgresChoreStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresChoreStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresChoreStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, choreSchemaSQL); err != nil {
		return fmt.Errorf("ensure chores schema: %w", err)
	}
	return nil
}

func (s *PostgresChoreStore) Close() error {
	return s.db.Close()
}

func (s *PostgresChoreStore) CreateChore(ctx context.Context, chore domain.Chore) (domain.Chore, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO chores (house_id, assigned_to_id, title, description, points,
			reference_photo_url, photo_url, is_completed, verified, attempted, explanation,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', FALSE, FALSE, FALSE, '', $7, $7)
		 RETURNING id`,
		chore.HouseID,
		chore.AssignedToID,
		chore.Title,
		chore.Description,
		chore.Points,
		chore.ReferencePhotoURL,
		now,
	)
	if err := row.Scan(&chore.ID); err != nil {
		return domain.Chore{}, fmt.Errorf("insert chore: %w", err)
	}

	chore.PhotoURL = ""
	chore.IsCompleted = false
	chore.Verified = false
	chore.Attempted = false
	chore.Explanation = ""
	chore.CreatedAt = now
	chore.UpdatedAt = now
	return chore, nil
}

func (s *PostgresChoreStore) GetChore(ctx context.Context, id int64) (domain.Chore, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+choreColumns+` FROM chores WHERE id = $1`,
		id,
	)
	chore, err := scanChore(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Chore{}, false, nil
		}
		return domain.Chore{}, false, fmt.Errorf("query chore: %w", err)
	}
	return chore, true, nil
}

func (s *PostgresChoreStore) AssignChore(ctx context.Context, choreID, userID int64) (domain.Chore, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE chores SET assigned_to_id = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING `+choreColumns,
		choreID,
		userID,
		time.Now().UTC(),
	)
	chore, err := scanChore(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Chore{}, ErrChoreNotFound
		}
		return domain.Chore{}, fmt.Errorf("assign chore: %w", err)
	}
	return chore, nil
}

// SubmitProof performs the guard and the effect in one conditional update so
// a concurrent verdict application cannot interleave with the reset.
func (s *PostgresChoreStore) SubmitProof(ctx context.Context, choreID int64, proofURL string) (domain.Chore, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE chores
		 SET photo_url = $2, attempted = FALSE, verified = FALSE, explanation = '', updated_at = $3
		 WHERE id = $1 AND assigned_to_id IS NOT NULL AND is_completed = FALSE
		 RETURNING `+choreColumns,
		choreID,
		proofURL,
		time.Now().UTC(),
	)
	chore, err := scanChore(row)
	if err == nil {
		return chore, nil
	}
	if err != sql.ErrNoRows {
		return domain.Chore{}, fmt.Errorf("submit proof: %w", err)
	}

	// Zero rows: diagnose which precondition failed.
	current, ok, err := s.GetChore(ctx, choreID)
	if err != nil {
		return domain.Chore{}, err
	}
	if !ok {
		return domain.Chore{}, ErrChoreNotFound
	}
	if err := current.CanSubmitProof(); err != nil {
		return domain.Chore{}, err
	}
	return domain.Chore{}, fmt.Errorf("submit proof: update matched no rows for chore %d", choreID)
}

func (s *PostgresChoreStore) ApplyVerdict(ctx context.Context, choreID int64, proofURL string, verdict domain.Verdict) (domain.VerdictApplication, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.VerdictApplication{}, fmt.Errorf("begin verdict transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The WHERE clause is the staleness and idempotence guard: the verdict
	// only lands while the job's proof photo is still current and unjudged.
	row := tx.QueryRowContext(
		ctx,
		`UPDATE chores
		 SET attempted = TRUE, verified = $3, is_completed = $3, explanation = $4, updated_at = $5
		 WHERE id = $1 AND photo_url = $2 AND attempted = FALSE
		 RETURNING `+choreColumns,
		choreID,
		proofURL,
		verdict.IsCompleted,
		verdict.Explanation,
		time.Now().UTC(),
	)
	chore, err := scanChore(row)
	if err != nil {
		if err != sql.ErrNoRows {
			return domain.VerdictApplication{}, fmt.Errorf("apply verdict: %w", err)
		}
		return domain.VerdictApplication{}, s.diagnoseVerdictConflict(ctx, tx, choreID, proofURL)
	}

	awarded := 0
	if verdict.IsCompleted && chore.AssignedToID != nil {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE users SET points = points + $2 WHERE id = $1`,
			*chore.AssignedToID,
			chore.Points,
		); err != nil {
			return domain.VerdictApplication{}, fmt.Errorf("award points: %w", err)
		}
		awarded = chore.Points
	}

	if err := tx.Commit(); err != nil {
		return domain.VerdictApplication{}, fmt.Errorf("commit verdict transaction: %w", err)
	}

	return domain.VerdictApplication{Chore: chore, AwardedPoints: awarded}, nil
}

func (s *PostgresChoreStore) diagnoseVerdictConflict(ctx context.Context, tx *sql.Tx, choreID int64, proofURL string) error {
	var (
		currentPhoto string
		attempted    bool
	)
	err := tx.QueryRowContext(
		ctx,
		`SELECT photo_url, attempted FROM chores WHERE id = $1`,
		choreID,
	).Scan(&currentPhoto, &attempted)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrChoreNotFound
		}
		return fmt.Errorf("diagnose verdict conflict: %w", err)
	}
	if currentPhoto != proofURL {
		return ErrStaleProof
	}
	if attempted {
		return ErrAlreadyJudged
	}
	return fmt.Errorf("apply verdict: update matched no rows for chore %d", choreID)
}

func (s *PostgresChoreStore) RevertCompletion(ctx context.Context, choreID int64) (domain.Chore, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Chore{}, fmt.Errorf("begin revert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		wasVerified bool
		points      int
		assignedTo  sql.NullInt64
	)
	err = tx.QueryRowContext(
		ctx,
		`SELECT verified, points, assigned_to_id FROM chores WHERE id = $1 FOR UPDATE`,
		choreID,
	).Scan(&wasVerified, &points, &assignedTo)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Chore{}, ErrChoreNotFound
		}
		return domain.Chore{}, fmt.Errorf("lock chore for revert: %w", err)
	}

	row := tx.QueryRowContext(
		ctx,
		`UPDATE chores
		 SET is_completed = FALSE, verified = FALSE, attempted = FALSE, explanation = '', updated_at = $2
		 WHERE id = $1 AND is_completed = TRUE
		 RETURNING `+choreColumns,
		choreID,
		time.Now().UTC(),
	)
	chore, err := scanChore(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Chore{}, domain.ErrNotCompleted
		}
		return domain.Chore{}, fmt.Errorf("revert completion: %w", err)
	}

	// Debit exactly what ApplyVerdict credited, and only if it credited.
	if wasVerified && assignedTo.Valid {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE users SET points = points - $2 WHERE id = $1`,
			assignedTo.Int64,
			points,
		); err != nil {
			return domain.Chore{}, fmt.Errorf("revoke points: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Chore{}, fmt.Errorf("commit revert transaction: %w", err)
	}
	return chore, nil
}

func (s *PostgresChoreStore) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO users (name, points, created_at) VALUES ($1, $2, $3) RETURNING id`,
		user.Name,
		user.Points,
		now,
	)
	if err := row.Scan(&user.ID); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	user.CreatedAt = now
	return user, nil
}

func (s *PostgresChoreStore) GetUser(ctx context.Context, id int64) (domain.User, bool, error) {
	var user domain.User
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, points, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Name, &user.Points, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, fmt.Errorf("query user: %w", err)
	}
	return user, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChore(row rowScanner) (domain.Chore, error) {
	var (
		chore      domain.Chore
		assignedTo sql.NullInt64
	)
	if err := row.Scan(
		&chore.ID,
		&chore.HouseID,
		&assignedTo,
		&chore.Title,
		&chore.Description,
		&chore.Points,
		&chore.ReferencePhotoURL,
		&chore.PhotoURL,
		&chore.IsCompleted,
		&chore.Verified,
		&chore.Attempted,
		&chore.Explanation,
		&chore.CreatedAt,
		&chore.UpdatedAt,
	); err != nil {
		return domain.Chore{}, err
	}
	if assignedTo.Valid {
		chore.AssignedToID = &assignedTo.Int64
	}
	return chore, nil
}
