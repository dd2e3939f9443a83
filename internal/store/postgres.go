package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts and results in PostgreSQL. Purchases and
// completed-question markers travel inside the user row as JSONB so that
// entitlement updates stay a single-row write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS prep_users (
			email TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_login_at TIMESTAMPTZ,
			purchases JSONB NOT NULL DEFAULT '[]',
			completed JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS assessment_results (
			id TEXT PRIMARY KEY,
			user_email TEXT NOT NULL,
			assessment_type TEXT NOT NULL,
			question_id TEXT NOT NULL,
			overall_band DOUBLE PRECISION NOT NULL,
			feedback JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assessment_results_user_created
			ON assessment_results (user_email, created_at);`,
		`CREATE TABLE IF NOT EXISTS consent_records (
			user_email TEXT PRIMARY KEY,
			data_processing BOOLEAN NOT NULL,
			audio_processing BOOLEAN NOT NULL,
			marketing_emails BOOLEAN NOT NULL,
			analytics BOOLEAN NOT NULL,
			third_party_sharing BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	purchases, completed, err := marshalUserBlobs(user)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO prep_users (email, id, password_hash, created_at, last_login_at, purchases, completed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (email) DO NOTHING`,
		normalizeEmail(user.Email),
		user.ID,
		user.PasswordHash,
		user.CreatedAt,
		user.LastLoginAt,
		purchases,
		completed,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, email string) (User, error) {
	var (
		user      User
		purchases []byte
		completed []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT email, id, password_hash, created_at, last_login_at, purchases, completed
		 FROM prep_users WHERE email=$1`,
		normalizeEmail(email),
	).Scan(&user.Email, &user.ID, &user.PasswordHash, &user.CreatedAt, &user.LastLoginAt, &purchases, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if err := json.Unmarshal(purchases, &user.Purchases); err != nil {
		return User{}, fmt.Errorf("decode purchases: %w", err)
	}
	if err := json.Unmarshal(completed, &user.Completed); err != nil {
		return User{}, fmt.Errorf("decode completed assessments: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user User) error {
	purchases, completed, err := marshalUserBlobs(user)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE prep_users
		 SET password_hash=$2, last_login_at=$3, purchases=$4, completed=$5
		 WHERE email=$1`,
		normalizeEmail(user.Email),
		user.PasswordHash,
		user.LastLoginAt,
		purchases,
		completed,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result AssessmentResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO assessment_results (id, user_email, assessment_type, question_id, overall_band, feedback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.ID,
		normalizeEmail(result.UserEmail),
		result.AssessmentType,
		result.QuestionID,
		result.OverallBand,
		result.Feedback,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResultsByUser(ctx context.Context, email string) ([]AssessmentResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_email, assessment_type, question_id, overall_band, feedback, created_at
		 FROM assessment_results WHERE user_email=$1 ORDER BY created_at DESC`,
		normalizeEmail(email),
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []AssessmentResult
	for rows.Next() {
		var r AssessmentResult
		if err := rows.Scan(&r.ID, &r.UserEmail, &r.AssessmentType, &r.QuestionID, &r.OverallBand, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) SaveConsent(ctx context.Context, record ConsentRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO consent_records (user_email, data_processing, audio_processing, marketing_emails, analytics, third_party_sharing, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_email) DO UPDATE SET
			data_processing=EXCLUDED.data_processing,
			audio_processing=EXCLUDED.audio_processing,
			marketing_emails=EXCLUDED.marketing_emails,
			analytics=EXCLUDED.analytics,
			third_party_sharing=EXCLUDED.third_party_sharing,
			updated_at=EXCLUDED.updated_at`,
		normalizeEmail(record.UserEmail),
		record.DataProcessing,
		record.AudioProcessing,
		record.MarketingEmails,
		record.Analytics,
		record.ThirdPartySharing,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConsent(ctx context.Context, email string) (ConsentRecord, error) {
	var record ConsentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_email, data_processing, audio_processing, marketing_emails, analytics, third_party_sharing, updated_at
		 FROM consent_records WHERE user_email=$1`,
		normalizeEmail(email),
	).Scan(&record.UserEmail, &record.DataProcessing, &record.AudioProcessing,
		&record.MarketingEmails, &record.Analytics, &record.ThirdPartySharing, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConsentRecord{}, ErrUserNotFound
	}
	if err != nil {
		return ConsentRecord{}, fmt.Errorf("get consent: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) DeleteUserData(ctx context.Context, email string) error {
	key := normalizeEmail(email)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin erasure: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM prep_users WHERE email=$1`, key)
	if err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM assessment_results WHERE user_email=$1`, key); err != nil {
		return fmt.Errorf("erase results: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM consent_records WHERE user_email=$1`, key); err != nil {
		return fmt.Errorf("erase consent: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func marshalUserBlobs(user User) (purchases, completed []byte, err error) {
	if user.Purchases == nil {
		user.Purchases = []Purchase{}
	}
	if user.Completed == nil {
		user.Completed = []CompletedAssessment{}
	}
	purchases, err = json.Marshal(user.Purchases)
	if err != nil {
		return nil, nil, fmt.Errorf("encode purchases: %w", err)
	}
	completed, err = json.Marshal(user.Completed)
	if err != nil {
		return nil, nil, fmt.Errorf("encode completed assessments: %w", err)
	}
	return purchases, completed, nil
}
