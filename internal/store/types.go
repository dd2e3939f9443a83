package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// Purchase is one verified in-app purchase and its attempt budget.
type Purchase struct {
	ProductID         string     `json:"product_id"`
	AssessmentType    string     `json:"assessment_type"`
	Platform          string     `json:"platform"`
	PurchasedAt       time.Time  `json:"purchased_at"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	AttemptsUsed      int        `json:"attempts_used"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// CompletedAssessment marks a question as seen so it is not repeated.
type CompletedAssessment struct {
	AssessmentType string    `json:"assessment_type"`
	QuestionID     string    `json:"question_id"`
	CompletedAt    time.Time `json:"completed_at"`
}

// User is one account record.
type User struct {
	ID           string                `json:"user_id"`
	Email        string                `json:"email"`
	PasswordHash string                `json:"-"`
	CreatedAt    time.Time             `json:"created_at"`
	LastLoginAt  *time.Time            `json:"last_login,omitempty"`
	Purchases    []Purchase            `json:"purchases"`
	Completed    []CompletedAssessment `json:"completed_assessments"`
}

// AssessmentResult is one finished assessment with its band score.
type AssessmentResult struct {
	ID             string          `json:"assessment_id"`
	UserEmail      string          `json:"user_email"`
	AssessmentType string          `json:"assessment_type"`
	QuestionID     string          `json:"question_id"`
	OverallBand    float64         `json:"overall_band"`
	Feedback       json.RawMessage `json:"feedback,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ConsentRecord holds a user's data-processing choices.
type ConsentRecord struct {
	UserEmail         string    `json:"user_email"`
	DataProcessing    bool      `json:"data_processing"`
	AudioProcessing   bool      `json:"audio_processing"`
	MarketingEmails   bool      `json:"marketing_emails"`
	Analytics         bool      `json:"analytics"`
	ThirdPartySharing bool      `json:"third_party_sharing"`
	UpdatedAt         time.Time `json:"last_updated"`
}

// DefaultConsent is what new accounts start with: processing required for
// the service itself, everything optional off.
func DefaultConsent(email string) ConsentRecord {
	return ConsentRecord{
		UserEmail:       email,
		DataProcessing:  true,
		AudioProcessing: true,
		UpdatedAt:       time.Now().UTC(),
	}
}

// Store persists accounts, results, and consent records.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, user User) error

	SaveResult(ctx context.Context, result AssessmentResult) error
	ResultsByUser(ctx context.Context, email string) ([]AssessmentResult, error)

	SaveConsent(ctx context.Context, record ConsentRecord) error
	GetConsent(ctx context.Context, email string) (ConsentRecord, error)

	// DeleteUserData removes every record tied to email (GDPR erasure).
	DeleteUserData(ctx context.Context, email string) error

	Close() error
}
