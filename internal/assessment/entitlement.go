package assessment

import (
	"errors"
	"fmt"
	"time"

	"github.com/ieltsgenai/prep/internal/store"
)

// AttemptsPerPurchase is how many assessments one purchase unlocks.
const AttemptsPerPurchase = 4

var ErrNoAttempts = errors.New("no attempts remaining")

// productAssessments maps store product IDs to assessment types.
var productAssessments = map[string]string{
	"com.ieltsgenaiprep.academic.writing":  AcademicWriting,
	"com.ieltsgenaiprep.general.writing":   GeneralWriting,
	"com.ieltsgenaiprep.academic.speaking": AcademicSpeaking,
	"com.ieltsgenaiprep.general.speaking":  GeneralSpeaking,
}

// AssessmentForProduct resolves a store product ID to its assessment type.
func AssessmentForProduct(productID string) (string, error) {
	assessmentType, ok := productAssessments[productID]
	if !ok {
		return "", fmt.Errorf("unknown product %q", productID)
	}
	return assessmentType, nil
}

// GrantPurchase appends a purchase carrying the standard attempt budget.
func GrantPurchase(user *store.User, productID, platform string) error {
	assessmentType, err := AssessmentForProduct(productID)
	if err != nil {
		return err
	}
	user.Purchases = append(user.Purchases, store.Purchase{
		ProductID:         productID,
		AssessmentType:    assessmentType,
		Platform:          platform,
		PurchasedAt:       time.Now().UTC(),
		AttemptsRemaining: AttemptsPerPurchase,
	})
	return nil
}

// AttemptsRemaining sums the unused attempts across the user's purchases for
// one assessment type.
func AttemptsRemaining(user store.User, assessmentType string) int {
	total := 0
	for _, p := range user.Purchases {
		if p.AssessmentType == assessmentType {
			total += p.AttemptsRemaining
		}
	}
	return total
}

func HasAccess(user store.User, assessmentType string) bool {
	return AttemptsRemaining(user, assessmentType) > 0
}

// UseAttempt consumes one attempt from the oldest purchase with budget left.
// The count never goes below zero.
func UseAttempt(user *store.User, assessmentType string) error {
	for i := range user.Purchases {
		p := &user.Purchases[i]
		if p.AssessmentType != assessmentType || p.AttemptsRemaining <= 0 {
			continue
		}
		now := time.Now().UTC()
		p.AttemptsRemaining--
		p.AttemptsUsed++
		p.LastUsedAt = &now
		return nil
	}
	return ErrNoAttempts
}

// MarkCompleted records the question so rotation does not repeat it.
func MarkCompleted(user *store.User, assessmentType, questionID string) {
	user.Completed = append(user.Completed, store.CompletedAssessment{
		AssessmentType: assessmentType,
		QuestionID:     questionID,
		CompletedAt:    time.Now().UTC(),
	})
}
