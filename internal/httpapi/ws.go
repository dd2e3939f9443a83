package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ieltsgenai/prep/internal/assessment"
	"github.com/ieltsgenai/prep/internal/protocol"
	"github.com/ieltsgenai/prep/internal/store"
)

const (
	wsStartTimeout = 10 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleSpeechWS runs one speaking assessment exchange: the client sends a
// single start message and receives examiner partials followed by exactly one
// terminal complete or error message.
func (s *Server) handleSpeechWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(8 << 20) // audio payloads ride in the start message
	_ = conn.SetReadDeadline(time.Now().Add(wsStartTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeStartConversation)).Inc()

	start, err := protocol.ParseStartConversation(data)
	if err != nil {
		s.writeWSError(conn, "invalid_start", err.Error())
		return
	}

	user, err := s.auth.Authenticate(r.Context(), start.SessionID)
	if err != nil {
		s.writeWSError(conn, "invalid_session", "session expired or unknown")
		return
	}

	switch start.AssessmentType {
	case assessment.AcademicSpeaking, assessment.GeneralSpeaking:
	default:
		s.writeWSError(conn, "unknown_assessment", "speaking assessments only on this endpoint")
		return
	}

	question, ok := s.resolveQuestion(start, user)
	if !ok {
		s.writeWSError(conn, "unknown_question", "question_id does not belong to this assessment")
		return
	}

	if err := assessment.UseAttempt(&user, start.AssessmentType); err != nil {
		s.writeWSError(conn, "no_attempts", "no attempts remaining for this assessment")
		return
	}

	started := time.Now()
	s.metrics.AssessmentEvents.WithLabelValues("started", start.AssessmentType).Inc()

	outcome, err := s.assessor.Assess(r.Context(), start.AssessmentType, question, start.AudioBase64,
		func(text, audioBase64 string) {
			s.writeWS(conn, protocol.PartialResponse{
				Type:        protocol.TypePartialResponse,
				Text:        text,
				AudioBase64: audioBase64,
			})
		})
	if err != nil {
		s.metrics.AssessmentEvents.WithLabelValues("failed", start.AssessmentType).Inc()
		s.writeWSError(conn, "assessment_failed", err.Error())
		return
	}

	result := store.AssessmentResult{
		UserEmail:      user.Email,
		AssessmentType: start.AssessmentType,
		QuestionID:     question.ID,
		OverallBand:    outcome.OverallBand,
		Feedback:       outcome.Feedback,
	}
	if err := s.store.SaveResult(r.Context(), result); err != nil {
		s.writeWSError(conn, "internal", "could not persist result")
		return
	}
	assessment.MarkCompleted(&user, start.AssessmentType, question.ID)
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.writeWSError(conn, "internal", "could not persist attempt")
		return
	}

	s.metrics.AssessmentEvents.WithLabelValues("completed", start.AssessmentType).Inc()
	s.metrics.ObserveAssessmentDuration(time.Since(started))
	s.writeWS(conn, protocol.Complete{
		Type:           protocol.TypeComplete,
		ConversationID: outcome.ConversationID,
		Feedback:       outcome.Feedback,
	})
}

// resolveQuestion honors an explicit question_id and otherwise rotates to the
// next unseen question.
func (s *Server) resolveQuestion(start protocol.StartConversation, user store.User) (assessment.Question, bool) {
	if start.QuestionID != "" {
		q, found := assessment.QuestionByID(start.QuestionID)
		if !found || q.AssessmentType != start.AssessmentType {
			return assessment.Question{}, false
		}
		return q, true
	}
	q, err := assessment.NextQuestion(start.AssessmentType, user.Completed)
	if err != nil {
		return assessment.Question{}, false
	}
	return q, true
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.PartialResponse:
		return m.Type, true
	case protocol.Complete:
		return m.Type, true
	case protocol.Error:
		return m.Type, true
	default:
		return "", false
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, code, message string) {
	s.writeWS(conn, protocol.Error{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
	})
}
