package core

import (
	"fmt"
	"strings"
)

// Chart type hints for sub-questions.
const (
	ChartBar = "bar"
	ChartPie = "pie"
)

// MinAnswerOptions is the fewest options a sub-question may offer.
const MinAnswerOptions = 2

// BreakdownError describes why a breakdown cannot be run.
type BreakdownError struct {
	// SubQuestionID is empty when the breakdown as a whole is at fault.
	SubQuestionID string
	Index         int
	Reason        string
}

// Error implements the error interface.
func (e *BreakdownError) Error() string {
	if e.SubQuestionID == "" && e.Index < 0 {
		return fmt.Sprintf("invalid breakdown: %s", e.Reason)
	}
	return fmt.Sprintf("invalid sub-question %d (%s): %s", e.Index+1, e.SubQuestionID, e.Reason)
}

// Validate checks that every sub-question has text and at least two
// non-empty answer options.
func (b *QuestionBreakdown) Validate() error {
	if b == nil {
		return &BreakdownError{Index: -1, Reason: "breakdown is missing"}
	}
	if len(b.SubQuestions) == 0 {
		return &BreakdownError{Index: -1, Reason: "no sub-questions"}
	}
	for i, sq := range b.SubQuestions {
		if strings.TrimSpace(sq.Text) == "" {
			return &BreakdownError{SubQuestionID: sq.ID, Index: i, Reason: "text is empty"}
		}
		if len(sq.AnswerOptions) < MinAnswerOptions {
			return &BreakdownError{SubQuestionID: sq.ID, Index: i, Reason: fmt.Sprintf("needs at least %d answer options, has %d", MinAnswerOptions, len(sq.AnswerOptions))}
		}
		for j, opt := range sq.AnswerOptions {
			if strings.TrimSpace(opt) == "" {
				return &BreakdownError{SubQuestionID: sq.ID, Index: i, Reason: fmt.Sprintf("answer option %d is empty", j+1)}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the breakdown.
func (b *QuestionBreakdown) Clone() *QuestionBreakdown {
	if b == nil {
		return nil
	}
	c := &QuestionBreakdown{OriginalQuestion: b.OriginalQuestion}
	if b.SubQuestions != nil {
		c.SubQuestions = make([]SubQuestion, len(b.SubQuestions))
		for i, sq := range b.SubQuestions {
			sq.AnswerOptions = append([]string(nil), sq.AnswerOptions...)
			c.SubQuestions[i] = sq
		}
	}
	return c
}

// Find looks up a sub-question by ID.
func (b *QuestionBreakdown) Find(id string) (SubQuestion, bool) {
	if b == nil {
		return SubQuestion{}, false
	}
	for _, sq := range b.SubQuestions {
		if sq.ID == id {
			return sq, true
		}
	}
	return SubQuestion{}, false
}
