package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ieltsgenai/prep/internal/apiclient"
	"github.com/ieltsgenai/prep/internal/assessment"
)

type stubCaller struct {
	endpoint string
	payload  map[string]any
	response string
	err      error
}

func (c *stubCaller) Call(_ context.Context, _ string, endpoint string, payload map[string]any, _ ...apiclient.CallOption) (json.RawMessage, error) {
	c.endpoint = endpoint
	c.payload = payload
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(c.response), nil
}

func TestHTTPVerifierAcceptsValidReceipt(t *testing.T) {
	caller := &stubCaller{response: `{"valid":true,"transaction_id":"txn-42"}`}
	v := NewHTTPVerifier(caller)

	got, err := v.Verify(context.Background(), Receipt{
		Platform:    PlatformApple,
		ProductID:   "com.ieltsgenaiprep.academic.writing",
		ReceiptData: "b64-receipt",
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.AssessmentType != assessment.AcademicWriting {
		t.Fatalf("AssessmentType = %q", got.AssessmentType)
	}
	if got.TransactionID != "txn-42" {
		t.Fatalf("TransactionID = %q", got.TransactionID)
	}
	if caller.endpoint != "/api/purchase/verify" {
		t.Fatalf("endpoint = %q", caller.endpoint)
	}
	if caller.payload["receipt_data"] != "b64-receipt" {
		t.Fatalf("payload = %v", caller.payload)
	}
}

func TestHTTPVerifierRejectsInvalidReceipt(t *testing.T) {
	caller := &stubCaller{response: `{"valid":false,"reason":"expired"}`}
	v := NewHTTPVerifier(caller)

	_, err := v.Verify(context.Background(), Receipt{
		Platform:    PlatformGoogle,
		ProductID:   "com.ieltsgenaiprep.general.speaking",
		ReceiptData: "b64-receipt",
	})
	if !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("Verify() error = %v, want ErrInvalidReceipt", err)
	}
}

func TestHTTPVerifierValidatesBeforeCalling(t *testing.T) {
	caller := &stubCaller{response: `{"valid":true}`}
	v := NewHTTPVerifier(caller)

	cases := []struct {
		name    string
		receipt Receipt
		want    error
	}{
		{"unknown platform", Receipt{Platform: "amazon", ProductID: "com.ieltsgenaiprep.academic.writing", ReceiptData: "x"}, ErrUnknownPlatform},
		{"empty receipt", Receipt{Platform: PlatformApple, ProductID: "com.ieltsgenaiprep.academic.writing"}, ErrInvalidReceipt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tc.receipt); !errors.Is(err, tc.want) {
				t.Fatalf("Verify() error = %v, want %v", err, tc.want)
			}
			if caller.endpoint != "" {
				t.Fatalf("backend called for a locally invalid receipt")
			}
		})
	}

	if _, err := v.Verify(context.Background(), Receipt{
		Platform: PlatformApple, ProductID: "com.other.product", ReceiptData: "x",
	}); err == nil {
		t.Fatalf("Verify() should reject unknown products")
	}
}

func TestFakeVerifier(t *testing.T) {
	v := NewFakeVerifier()

	got, err := v.Verify(context.Background(), Receipt{
		Platform:    PlatformGoogle,
		ProductID:   "com.ieltsgenaiprep.general.writing",
		ReceiptData: "anything",
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.AssessmentType != assessment.GeneralWriting {
		t.Fatalf("AssessmentType = %q", got.AssessmentType)
	}
	if got.TransactionID == "" {
		t.Fatalf("fake verifier should synthesize a transaction ID")
	}

	if _, err := v.Verify(context.Background(), Receipt{
		Platform:    PlatformGoogle,
		ProductID:   "com.ieltsgenaiprep.general.writing",
		ReceiptData: "INVALID-token",
	}); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("Verify() error = %v, want ErrInvalidReceipt", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Verify(ctx, Receipt{
		Platform: PlatformApple, ProductID: "com.ieltsgenaiprep.academic.writing", ReceiptData: "x",
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Verify() canceled error = %v", err)
	}
}
