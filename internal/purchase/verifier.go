// Package purchase verifies app-store receipts before attempts are granted.
package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ieltsgenai/prep/internal/apiclient"
	"github.com/ieltsgenai/prep/internal/assessment"
)

var (
	ErrInvalidReceipt  = errors.New("receipt rejected by store")
	ErrUnknownPlatform = errors.New("unknown purchase platform")
)

// Platforms accepted on the verify endpoint.
const (
	PlatformApple  = "apple"
	PlatformGoogle = "google"
)

// Receipt is what the mobile client submits after a store transaction.
type Receipt struct {
	Platform    string `json:"platform"`
	ProductID   string `json:"product_id"`
	ReceiptData string `json:"receipt_data"`
}

// Verification is a validated receipt resolved to its assessment type.
type Verification struct {
	ProductID      string `json:"product_id"`
	AssessmentType string `json:"assessment_type"`
	Platform       string `json:"platform"`
	TransactionID  string `json:"transaction_id"`
}

// Verifier checks a receipt against the originating store.
type Verifier interface {
	Verify(ctx context.Context, receipt Receipt) (Verification, error)
}

// validate applies the platform and product checks shared by all verifiers.
func validate(receipt Receipt) (string, error) {
	switch receipt.Platform {
	case PlatformApple, PlatformGoogle:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, receipt.Platform)
	}
	if strings.TrimSpace(receipt.ReceiptData) == "" {
		return "", fmt.Errorf("%w: empty receipt data", ErrInvalidReceipt)
	}
	return assessment.AssessmentForProduct(receipt.ProductID)
}

// Caller issues authenticated backend calls and is satisfied by
// *apiclient.Client.
type Caller interface {
	Call(ctx context.Context, method, endpoint string, payload map[string]any, opts ...apiclient.CallOption) (json.RawMessage, error)
}

// HTTPVerifier forwards receipts to the backend validation endpoint, which
// holds the store credentials.
type HTTPVerifier struct {
	caller   Caller
	endpoint string
}

func NewHTTPVerifier(caller Caller) *HTTPVerifier {
	return &HTTPVerifier{caller: caller, endpoint: "/api/purchase/verify"}
}

func (v *HTTPVerifier) Verify(ctx context.Context, receipt Receipt) (Verification, error) {
	assessmentType, err := validate(receipt)
	if err != nil {
		return Verification{}, err
	}

	raw, err := v.caller.Call(ctx, "POST", v.endpoint, map[string]any{
		"platform":     receipt.Platform,
		"product_id":   receipt.ProductID,
		"receipt_data": receipt.ReceiptData,
	})
	if err != nil {
		return Verification{}, fmt.Errorf("verify receipt: %w", err)
	}

	var body struct {
		Valid         bool   `json:"valid"`
		TransactionID string `json:"transaction_id"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Verification{}, fmt.Errorf("decode verification: %w", err)
	}
	if !body.Valid {
		if body.Reason != "" {
			return Verification{}, fmt.Errorf("%w: %s", ErrInvalidReceipt, body.Reason)
		}
		return Verification{}, ErrInvalidReceipt
	}

	return Verification{
		ProductID:      receipt.ProductID,
		AssessmentType: assessmentType,
		Platform:       receipt.Platform,
		TransactionID:  body.TransactionID,
	}, nil
}

// FakeVerifier provides deterministic local verification when no store
// backend is configured. Receipts containing "invalid" are rejected.
type FakeVerifier struct{}

func NewFakeVerifier() *FakeVerifier { return &FakeVerifier{} }

func (v *FakeVerifier) Verify(ctx context.Context, receipt Receipt) (Verification, error) {
	select {
	case <-ctx.Done():
		return Verification{}, ctx.Err()
	default:
	}

	assessmentType, err := validate(receipt)
	if err != nil {
		return Verification{}, err
	}
	if strings.Contains(strings.ToLower(receipt.ReceiptData), "invalid") {
		return Verification{}, ErrInvalidReceipt
	}

	return Verification{
		ProductID:      receipt.ProductID,
		AssessmentType: assessmentType,
		Platform:       receipt.Platform,
		TransactionID:  fmt.Sprintf("fake-%s-%s", receipt.Platform, receipt.ProductID),
	}, nil
}
