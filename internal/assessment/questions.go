// Package assessment holds the question bank and the per-purchase attempt
// accounting behind every assessment flow.
package assessment

import (
	"errors"
	"fmt"

	"github.com/ieltsgenai/prep/internal/store"
)

// Assessment types as they appear on the wire.
const (
	AcademicWriting  = "academic_writing"
	GeneralWriting   = "general_writing"
	AcademicSpeaking = "academic_speaking"
	GeneralSpeaking  = "general_speaking"
)

var ErrUnknownType = errors.New("unknown assessment type")

// Types lists every supported assessment type in display order.
func Types() []string {
	return []string{AcademicWriting, GeneralWriting, AcademicSpeaking, GeneralSpeaking}
}

func ValidType(assessmentType string) bool {
	switch assessmentType {
	case AcademicWriting, GeneralWriting, AcademicSpeaking, GeneralSpeaking:
		return true
	}
	return false
}

// Question is one task from the bank.
type Question struct {
	ID             string `json:"question_id"`
	AssessmentType string `json:"assessment_type"`
	Task           string `json:"task"`
	Prompt         string `json:"prompt"`
}

// bank is keyed by assessment type, ordered oldest first so rotation is
// deterministic.
var bank = map[string][]Question{
	AcademicWriting: {
		{ID: "aw_task2_001", AssessmentType: AcademicWriting, Task: "Task 2",
			Prompt: "Some people believe that universities should focus on practical skills rather than academic theory. To what extent do you agree or disagree?"},
		{ID: "aw_task2_002", AssessmentType: AcademicWriting, Task: "Task 2",
			Prompt: "In many countries the average age of the population is rising. Discuss the advantages and disadvantages of this trend."},
		{ID: "aw_task2_003", AssessmentType: AcademicWriting, Task: "Task 2",
			Prompt: "International tourism has brought enormous benefit to many places. At the same time, there is concern about its impact on local inhabitants and the environment. Discuss both views and give your own opinion."},
	},
	GeneralWriting: {
		{ID: "gw_task1_001", AssessmentType: GeneralWriting, Task: "Task 1",
			Prompt: "You recently moved to a new city. Write a letter to a friend describing your new home and inviting them to visit."},
		{ID: "gw_task1_002", AssessmentType: GeneralWriting, Task: "Task 1",
			Prompt: "An item you ordered online arrived damaged. Write a letter to the company explaining the problem and what you would like them to do."},
		{ID: "gw_task2_001", AssessmentType: GeneralWriting, Task: "Task 2",
			Prompt: "Some people think children should start school at a very early age. Others believe they should start later. Discuss both views and give your opinion."},
	},
	AcademicSpeaking: {
		{ID: "as_complete_001", AssessmentType: AcademicSpeaking, Task: "Full test",
			Prompt: "Part 1: your studies and hometown. Part 2: describe a book that influenced you. Part 3: the role of reading in education."},
		{ID: "as_complete_002", AssessmentType: AcademicSpeaking, Task: "Full test",
			Prompt: "Part 1: technology in daily life. Part 2: describe a piece of equipment you rely on. Part 3: how technology changes the way people learn."},
	},
	GeneralSpeaking: {
		{ID: "gs_complete_001", AssessmentType: GeneralSpeaking, Task: "Full test",
			Prompt: "Part 1: your work and daily routine. Part 2: describe a memorable journey. Part 3: how travel has changed over the last decades."},
		{ID: "gs_complete_002", AssessmentType: GeneralSpeaking, Task: "Full test",
			Prompt: "Part 1: food and cooking. Part 2: describe a meal you enjoyed with others. Part 3: eating habits across generations."},
	},
}

// QuestionByID looks a question up across all types.
func QuestionByID(id string) (Question, bool) {
	for _, questions := range bank {
		for _, q := range questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

// NextQuestion returns the first question of assessmentType the user has not
// completed. When the bank is exhausted it recycles from the start rather
// than failing.
func NextQuestion(assessmentType string, completed []store.CompletedAssessment) (Question, error) {
	questions, ok := bank[assessmentType]
	if !ok {
		return Question{}, fmt.Errorf("%w: %q", ErrUnknownType, assessmentType)
	}

	seen := make(map[string]bool, len(completed))
	for _, c := range completed {
		if c.AssessmentType == assessmentType {
			seen[c.QuestionID] = true
		}
	}
	for _, q := range questions {
		if !seen[q.ID] {
			return q, nil
		}
	}
	return questions[0], nil
}
