package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ieltsgenai/prep/internal/assessment"
	"github.com/ieltsgenai/prep/internal/auth"
	"github.com/ieltsgenai/prep/internal/purchase"
	"github.com/ieltsgenai/prep/internal/store"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, store.ErrUserExists):
		respondError(w, http.StatusConflict, "account_exists", "an account with this email already exists")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	s.metrics.AuthEvents.WithLabelValues("registered").Inc()
	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":    user.ID,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.metrics.AuthEvents.WithLabelValues("login_rejected").Inc()
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	s.metrics.AuthEvents.WithLabelValues("login").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"user_email": sess.UserEmail,
		"expires_at": sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token := sessionToken(r, body)
	if token == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "session_id is required")
		return
	}

	s.auth.Logout(token)
	s.metrics.AuthEvents.WithLabelValues("logout").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, nil)
	if !ok {
		return
	}

	type entry struct {
		AssessmentType    string `json:"assessment_type"`
		AttemptsRemaining int    `json:"attempts_remaining"`
		Completed         int    `json:"completed"`
	}
	out := make([]entry, 0, len(assessment.Types()))
	for _, typ := range assessment.Types() {
		completed := 0
		for _, c := range user.Completed {
			if c.AssessmentType == typ {
				completed++
			}
		}
		out = append(out, entry{
			AssessmentType:    typ,
			AttemptsRemaining: assessment.AttemptsRemaining(user, typ),
			Completed:         completed,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"assessments": out})
}

func (s *Server) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, nil)
	if !ok {
		return
	}
	assessmentType := chi.URLParam(r, "type")
	if !assessment.ValidType(assessmentType) {
		respondError(w, http.StatusNotFound, "unknown_assessment", "unknown assessment type")
		return
	}
	if !assessment.HasAccess(user, assessmentType) {
		respondError(w, http.StatusForbidden, "no_attempts", "no attempts remaining for this assessment")
		return
	}

	q, err := assessment.NextQuestion(assessmentType, user.Completed)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, q)
}

type submitResultRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// handleSubmitResult scores a written submission. Speaking assessments go
// through the websocket instead.
func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req submitResultRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	user, ok := s.authenticate(w, r, map[string]any{"session_id": req.SessionID})
	if !ok {
		return
	}

	assessmentType := chi.URLParam(r, "type")
	switch assessmentType {
	case assessment.AcademicWriting, assessment.GeneralWriting:
	default:
		respondError(w, http.StatusNotFound, "unknown_assessment", "written submissions accept writing assessments only")
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		respondError(w, http.StatusBadRequest, "empty_answer", "answer is required")
		return
	}

	question, found := assessment.QuestionByID(req.QuestionID)
	if !found || question.AssessmentType != assessmentType {
		respondError(w, http.StatusBadRequest, "unknown_question", "question_id does not belong to this assessment")
		return
	}

	if err := assessment.UseAttempt(&user, assessmentType); err != nil {
		respondError(w, http.StatusForbidden, "no_attempts", "no attempts remaining for this assessment")
		return
	}

	started := time.Now()
	outcome, err := s.assessor.Assess(r.Context(), assessmentType, question, req.Answer, nil)
	if err != nil {
		respondError(w, http.StatusBadGateway, "assessment_failed", err.Error())
		return
	}

	result := store.AssessmentResult{
		UserEmail:      user.Email,
		AssessmentType: assessmentType,
		QuestionID:     question.ID,
		OverallBand:    outcome.OverallBand,
		Feedback:       outcome.Feedback,
	}
	if err := s.store.SaveResult(r.Context(), result); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not persist result")
		return
	}
	assessment.MarkCompleted(&user, assessmentType, question.ID)
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not persist attempt")
		return
	}

	s.metrics.AssessmentEvents.WithLabelValues("completed", assessmentType).Inc()
	s.metrics.ObserveAssessmentDuration(time.Since(started))
	respondJSON(w, http.StatusOK, map[string]any{
		"question_id":        question.ID,
		"overall_band":       outcome.OverallBand,
		"feedback":           outcome.Feedback,
		"attempts_remaining": assessment.AttemptsRemaining(user, assessmentType),
	})
}

func (s *Server) handleResultHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, nil)
	if !ok {
		return
	}
	results, err := s.store.ResultsByUser(r.Context(), user.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not load results")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

type verifyPurchaseRequest struct {
	SessionID   string `json:"session_id"`
	Platform    string `json:"platform"`
	ProductID   string `json:"product_id"`
	ReceiptData string `json:"receipt_data"`
}

func (s *Server) handleVerifyPurchase(w http.ResponseWriter, r *http.Request) {
	var req verifyPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	user, ok := s.authenticate(w, r, map[string]any{"session_id": req.SessionID})
	if !ok {
		return
	}

	verification, err := s.verifier.Verify(r.Context(), purchase.Receipt{
		Platform:    req.Platform,
		ProductID:   req.ProductID,
		ReceiptData: req.ReceiptData,
	})
	switch {
	case errors.Is(err, purchase.ErrUnknownPlatform):
		respondError(w, http.StatusBadRequest, "unknown_platform", err.Error())
		return
	case errors.Is(err, purchase.ErrInvalidReceipt):
		s.metrics.AssessmentEvents.WithLabelValues("purchase_rejected", req.ProductID).Inc()
		respondError(w, http.StatusPaymentRequired, "invalid_receipt", "receipt could not be verified")
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "verification_failed", err.Error())
		return
	}

	if err := assessment.GrantPurchase(&user, verification.ProductID, verification.Platform); err != nil {
		respondError(w, http.StatusBadRequest, "unknown_product", err.Error())
		return
	}
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not persist purchase")
		return
	}

	s.metrics.AssessmentEvents.WithLabelValues("purchase_granted", verification.AssessmentType).Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"assessment_type":    verification.AssessmentType,
		"transaction_id":     verification.TransactionID,
		"attempts_remaining": assessment.AttemptsRemaining(user, verification.AssessmentType),
	})
}

func (s *Server) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, nil)
	if !ok {
		return
	}
	record, err := s.store.GetConsent(r.Context(), user.Email)
	if errors.Is(err, store.ErrUserNotFound) {
		record = store.DefaultConsent(user.Email)
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not load consent")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

type updateConsentRequest struct {
	SessionID         string `json:"session_id"`
	DataProcessing    bool   `json:"data_processing"`
	AudioProcessing   bool   `json:"audio_processing"`
	MarketingEmails   bool   `json:"marketing_emails"`
	Analytics         bool   `json:"analytics"`
	ThirdPartySharing bool   `json:"third_party_sharing"`
}

func (s *Server) handleUpdateConsent(w http.ResponseWriter, r *http.Request) {
	var req updateConsentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	user, ok := s.authenticate(w, r, map[string]any{"session_id": req.SessionID})
	if !ok {
		return
	}

	// Data processing consent cannot be withdrawn while keeping the account;
	// erasure is the path for that.
	if !req.DataProcessing {
		respondError(w, http.StatusBadRequest, "consent_required", "data processing consent is required; delete the account to withdraw it")
		return
	}

	record := store.ConsentRecord{
		UserEmail:         user.Email,
		DataProcessing:    req.DataProcessing,
		AudioProcessing:   req.AudioProcessing,
		MarketingEmails:   req.MarketingEmails,
		Analytics:         req.Analytics,
		ThirdPartySharing: req.ThirdPartySharing,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.store.SaveConsent(r.Context(), record); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not save consent")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, nil)
	if !ok {
		return
	}
	if err := s.store.DeleteUserData(r.Context(), user.Email); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", "could not erase account data")
		return
	}
	s.auth.Logout(sessionToken(r, nil))
	s.metrics.AuthEvents.WithLabelValues("account_deleted").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
