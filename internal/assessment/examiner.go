package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the scored result of one assessment exchange.
type Outcome struct {
	ConversationID string
	Transcript     string
	OverallBand    float64
	Feedback       json.RawMessage
}

// Examiner produces deterministic scripted feedback when no model backend is
// configured. Bands derive from the submission itself so repeated runs with
// the same input score the same.
type Examiner struct{}

func NewExaminer() *Examiner { return &Examiner{} }

// Assess scores one submission. For speaking assessments submission is base64
// audio; for writing it is the essay text. onPartial, when set, receives the
// examiner commentary in fragments as it is produced.
func (e *Examiner) Assess(
	ctx context.Context,
	assessmentType string,
	question Question,
	submission string,
	onPartial func(text, audioBase64 string),
) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	default:
	}
	if !ValidType(assessmentType) {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownType, assessmentType)
	}

	band := scoreSubmission(submission)
	parts := []string{
		fmt.Sprintf("Reviewing your response to %s. ", question.ID),
		"Your ideas are organized and mostly on topic. ",
		fmt.Sprintf("Overall band: %.1f.", band),
	}
	var transcript strings.Builder
	for _, p := range parts {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		default:
		}
		transcript.WriteString(p)
		if onPartial != nil {
			onPartial(p, "")
		}
	}

	feedback, err := json.Marshal(feedbackFor(assessmentType, band))
	if err != nil {
		return Outcome{}, fmt.Errorf("encode feedback: %w", err)
	}

	return Outcome{
		Transcript:  transcript.String(),
		OverallBand: band,
		Feedback:    feedback,
	}, nil
}

// scoreSubmission maps submission length onto the 5.5-8.0 band range in
// half-band steps.
func scoreSubmission(submission string) float64 {
	n := len(strings.TrimSpace(submission))
	switch {
	case n == 0:
		return 5.5
	case n < 200:
		return 6.0
	case n < 800:
		return 6.5
	case n < 2000:
		return 7.0
	case n < 5000:
		return 7.5
	default:
		return 8.0
	}
}

func feedbackFor(assessmentType string, band float64) map[string]any {
	criteria := map[string]float64{}
	switch assessmentType {
	case AcademicSpeaking, GeneralSpeaking:
		criteria["fluency_coherence"] = band
		criteria["lexical_resource"] = band - 0.5
		criteria["grammatical_range"] = band
		criteria["pronunciation"] = band + 0.5
	default:
		criteria["task_achievement"] = band
		criteria["coherence_cohesion"] = band
		criteria["lexical_resource"] = band - 0.5
		criteria["grammatical_range"] = band + 0.5
	}
	return map[string]any{
		"overall_band": band,
		"criteria":     criteria,
		"summary":      "Well structured with room to extend your range of vocabulary.",
	}
}
