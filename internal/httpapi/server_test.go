package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ieltsgenai/prep/internal/assessment"
	"github.com/ieltsgenai/prep/internal/auth"
	"github.com/ieltsgenai/prep/internal/config"
	"github.com/ieltsgenai/prep/internal/observability"
	"github.com/ieltsgenai/prep/internal/protocol"
	"github.com/ieltsgenai/prep/internal/purchase"
	"github.com/ieltsgenai/prep/internal/session"
	"github.com/ieltsgenai/prep/internal/store"
)

func newTestServer(t *testing.T, name string) *httptest.Server {
	t.Helper()
	cfg := config.Config{SessionTTL: time.Minute}
	st := store.NewInMemoryStore()
	sessions := session.NewCache(cfg.SessionTTL)
	metrics := observability.NewMetrics("test_httpapi_" + name + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	srv := New(cfg, st, sessions, auth.NewService(st, sessions), purchase.NewFakeVerifier(), assessment.NewExaminer(), metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return res.StatusCode, out
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return res.StatusCode, out
}

// registerAndLogin returns a live session token for a fresh account.
func registerAndLogin(t *testing.T, baseURL string) string {
	t.Helper()
	creds := map[string]string{"email": "prep.user@example.com", "password": "correct horse battery"}
	if status, body := postJSON(t, baseURL+"/api/register", creds); status != http.StatusCreated {
		t.Fatalf("register status = %d, body = %v", status, body)
	}
	status, body := postJSON(t, baseURL+"/api/login", creds)
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", status, body)
	}
	token, _ := body["session_id"].(string)
	if token == "" {
		t.Fatalf("missing session_id in login response: %v", body)
	}
	return token
}

func buyAttempts(t *testing.T, baseURL, token, productID string) {
	t.Helper()
	status, body := postJSON(t, baseURL+"/api/purchase/verify", map[string]string{
		"session_id":   token,
		"platform":     "apple",
		"product_id":   productID,
		"receipt_data": "valid-receipt",
	})
	if status != http.StatusOK {
		t.Fatalf("purchase status = %d, body = %v", status, body)
	}
	if body["attempts_remaining"].(float64) != float64(assessment.AttemptsPerPurchase) {
		t.Fatalf("attempts_remaining = %v, want %d", body["attempts_remaining"], assessment.AttemptsPerPurchase)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, "health")

	if status, body := getJSON(t, ts.URL+"/healthz"); status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", status, body)
	}
	status, body := getJSON(t, ts.URL+"/readyz")
	if status != http.StatusOK {
		t.Fatalf("readyz status = %d", status)
	}
	if body["store_mode"] != "in-memory" {
		t.Fatalf("store_mode = %v, want in-memory", body["store_mode"])
	}
}

func TestAuthEndpoints(t *testing.T) {
	ts := newTestServer(t, "auth")
	creds := map[string]string{"email": "prep.user@example.com", "password": "correct horse battery"}

	if status, _ := postJSON(t, ts.URL+"/api/register", creds); status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}
	if status, _ := postJSON(t, ts.URL+"/api/register", creds); status != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", status)
	}
	if status, _ := postJSON(t, ts.URL+"/api/register", map[string]string{"email": "x@example.com", "password": "short"}); status != http.StatusBadRequest {
		t.Fatalf("weak password status = %d, want 400", status)
	}

	status, body := postJSON(t, ts.URL+"/api/login", creds)
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	token := body["session_id"].(string)

	if status, _ := postJSON(t, ts.URL+"/api/login", map[string]string{"email": creds["email"], "password": "wrong password"}); status != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", status)
	}

	if status, _ := postJSON(t, ts.URL+"/api/logout", map[string]string{"session_id": token}); status != http.StatusOK {
		t.Fatalf("logout status = %d", status)
	}
	if status, _ := getJSON(t, ts.URL+"/api/assessments?session_id="+token); status != http.StatusUnauthorized {
		t.Fatalf("request after logout status = %d, want 401", status)
	}
}

func TestAssessmentsRequireSession(t *testing.T) {
	ts := newTestServer(t, "unauth")
	if status, _ := getJSON(t, ts.URL+"/api/assessments"); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", status)
	}
}

func TestWritingAssessmentFlow(t *testing.T) {
	ts := newTestServer(t, "writing")
	token := registerAndLogin(t, ts.URL)

	// No purchase yet: the question endpoint refuses.
	if status, _ := getJSON(t, ts.URL+"/api/assessments/academic_writing/question?session_id="+token); status != http.StatusForbidden {
		t.Fatalf("question without purchase status = %d, want 403", status)
	}

	buyAttempts(t, ts.URL, token, "com.ieltsgenaiprep.academic.writing")

	status, question := getJSON(t, ts.URL+"/api/assessments/academic_writing/question?session_id="+token)
	if status != http.StatusOK {
		t.Fatalf("question status = %d", status)
	}
	if question["question_id"] != "aw_task2_001" {
		t.Fatalf("question_id = %v, want aw_task2_001", question["question_id"])
	}

	status, result := postJSON(t, ts.URL+"/api/assessments/academic_writing/result", map[string]string{
		"session_id":  token,
		"question_id": "aw_task2_001",
		"answer":      strings.Repeat("University education should balance theory and practice. ", 10),
	})
	if status != http.StatusOK {
		t.Fatalf("submit status = %d, body = %v", status, result)
	}
	if result["overall_band"].(float64) < 5.5 {
		t.Fatalf("overall_band = %v", result["overall_band"])
	}
	if result["attempts_remaining"].(float64) != 3 {
		t.Fatalf("attempts_remaining = %v, want 3", result["attempts_remaining"])
	}

	// Rotation moves past the completed question.
	_, question = getJSON(t, ts.URL+"/api/assessments/academic_writing/question?session_id="+token)
	if question["question_id"] != "aw_task2_002" {
		t.Fatalf("next question_id = %v, want aw_task2_002", question["question_id"])
	}

	status, history := getJSON(t, ts.URL+"/api/assessments/results?session_id="+token)
	if status != http.StatusOK {
		t.Fatalf("history status = %d", status)
	}
	results := history["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

func TestSubmitRejectsSpeakingAndForeignQuestions(t *testing.T) {
	ts := newTestServer(t, "submitguards")
	token := registerAndLogin(t, ts.URL)
	buyAttempts(t, ts.URL, token, "com.ieltsgenaiprep.academic.writing")

	if status, _ := postJSON(t, ts.URL+"/api/assessments/academic_speaking/result", map[string]string{
		"session_id": token, "question_id": "as_complete_001", "answer": "spoken",
	}); status != http.StatusNotFound {
		t.Fatalf("speaking submit status = %d, want 404", status)
	}

	if status, _ := postJSON(t, ts.URL+"/api/assessments/academic_writing/result", map[string]string{
		"session_id": token, "question_id": "gw_task1_001", "answer": "wrong bank",
	}); status != http.StatusBadRequest {
		t.Fatalf("foreign question status = %d, want 400", status)
	}
}

func TestPurchaseVerifyRejectsBadReceipts(t *testing.T) {
	ts := newTestServer(t, "purchase")
	token := registerAndLogin(t, ts.URL)

	status, _ := postJSON(t, ts.URL+"/api/purchase/verify", map[string]string{
		"session_id": token, "platform": "apple",
		"product_id": "com.ieltsgenaiprep.academic.writing", "receipt_data": "invalid-receipt",
	})
	if status != http.StatusPaymentRequired {
		t.Fatalf("invalid receipt status = %d, want 402", status)
	}

	status, _ = postJSON(t, ts.URL+"/api/purchase/verify", map[string]string{
		"session_id": token, "platform": "amazon",
		"product_id": "com.ieltsgenaiprep.academic.writing", "receipt_data": "x",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("unknown platform status = %d, want 400", status)
	}
}

func TestConsentRoundTrip(t *testing.T) {
	ts := newTestServer(t, "consent")
	token := registerAndLogin(t, ts.URL)

	status, consent := getJSON(t, ts.URL+"/api/consent?session_id="+token)
	if status != http.StatusOK {
		t.Fatalf("get consent status = %d", status)
	}
	if consent["data_processing"] != true || consent["marketing_emails"] != false {
		t.Fatalf("default consent = %v", consent)
	}

	status, updated := postJSON(t, ts.URL+"/api/consent", map[string]any{
		"session_id": token, "data_processing": true, "audio_processing": true, "marketing_emails": true,
	})
	if status != http.StatusOK {
		t.Fatalf("update consent status = %d", status)
	}
	if updated["marketing_emails"] != true {
		t.Fatalf("marketing_emails not persisted: %v", updated)
	}

	if status, _ := postJSON(t, ts.URL+"/api/consent", map[string]any{
		"session_id": token, "data_processing": false,
	}); status != http.StatusBadRequest {
		t.Fatalf("withdrawing processing consent status = %d, want 400", status)
	}
}

func TestDeleteAccountErasesAndEndsSession(t *testing.T) {
	ts := newTestServer(t, "erasure")
	token := registerAndLogin(t, ts.URL)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/account?session_id="+token, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/account error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", res.StatusCode)
	}

	if status, _ := postJSON(t, ts.URL+"/api/login", map[string]string{
		"email": "prep.user@example.com", "password": "correct horse battery",
	}); status != http.StatusUnauthorized {
		t.Fatalf("login after erasure status = %d, want 401", status)
	}
}

func dialSpeechWS(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/nova-sonic/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s error = %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSpeechWSCompletesAssessment(t *testing.T) {
	ts := newTestServer(t, "ws")
	token := registerAndLogin(t, ts.URL)
	buyAttempts(t, ts.URL, token, "com.ieltsgenaiprep.academic.speaking")

	conn := dialSpeechWS(t, ts.URL)
	err := conn.WriteJSON(protocol.StartConversation{
		Action:         protocol.TypeStartConversation,
		AssessmentType: assessment.AcademicSpeaking,
		AudioBase64:    "QUJDREVGRw==",
		SessionID:      token,
	})
	if err != nil {
		t.Fatalf("write start error = %v", err)
	}

	partials := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read error = %v after %d partials", err, partials)
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			t.Fatalf("parse error = %v", err)
		}
		switch m := msg.(type) {
		case protocol.PartialResponse:
			partials++
		case protocol.Complete:
			if partials == 0 {
				t.Fatalf("complete arrived before any partials")
			}
			if len(m.Feedback) == 0 {
				t.Fatalf("complete missing feedback")
			}
			// Attempt was consumed and the question recorded.
			_, body := getJSON(t, ts.URL+"/api/assessments?session_id="+token)
			for _, raw := range body["assessments"].([]any) {
				entry := raw.(map[string]any)
				if entry["assessment_type"] == assessment.AcademicSpeaking {
					if entry["attempts_remaining"].(float64) != 3 {
						t.Fatalf("attempts_remaining = %v, want 3", entry["attempts_remaining"])
					}
					if entry["completed"].(float64) != 1 {
						t.Fatalf("completed = %v, want 1", entry["completed"])
					}
				}
			}
			return
		case protocol.Error:
			t.Fatalf("unexpected error frame: %+v", m)
		}
	}
}

func TestSpeechWSRejectsWithoutAttempts(t *testing.T) {
	ts := newTestServer(t, "wsnoattempts")
	token := registerAndLogin(t, ts.URL)

	conn := dialSpeechWS(t, ts.URL)
	err := conn.WriteJSON(protocol.StartConversation{
		Action:         protocol.TypeStartConversation,
		AssessmentType: assessment.GeneralSpeaking,
		SessionID:      token,
	})
	if err != nil {
		t.Fatalf("write start error = %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	errMsg, ok := msg.(protocol.Error)
	if !ok {
		t.Fatalf("message = %T, want protocol.Error", msg)
	}
	if errMsg.Code != "no_attempts" {
		t.Fatalf("code = %q, want no_attempts", errMsg.Code)
	}
}

func TestSpeechWSRejectsBadSession(t *testing.T) {
	ts := newTestServer(t, "wsbadsession")

	conn := dialSpeechWS(t, ts.URL)
	err := conn.WriteJSON(protocol.StartConversation{
		Action:         protocol.TypeStartConversation,
		AssessmentType: assessment.AcademicSpeaking,
		SessionID:      "not-a-session",
	})
	if err != nil {
		t.Fatalf("write start error = %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if errMsg, ok := msg.(protocol.Error); !ok || errMsg.Code != "invalid_session" {
		t.Fatalf("message = %#v, want invalid_session error", msg)
	}
}
