package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// QuestionOption is one row of the questionAndOptions response. Every row
// repeats the question text.
type QuestionOption struct {
	Question   string `json:"question"`
	OptionText string `json:"option_text"`
}

// Question is a question with its answer options in server order.
type Question struct {
	ID      int64
	Text    string
	Options []string
}

type correctAnswerResponse struct {
	CorrectAnswer string `json:"correctAnswer"`
	QuestionID    int64  `json:"question_id"`
}

// QuestionClient fetches question content for presentation. The sync core
// only ever passes a question id across this boundary.
type QuestionClient struct {
	*BaseClient
}

func NewQuestionClient(baseURL string) *QuestionClient {
	return &QuestionClient{BaseClient: NewBaseClient(baseURL)}
}

// QuestionAndOptions fetches the question text and its options.
func (c *QuestionClient) QuestionAndOptions(ctx context.Context, questionID int64) (Question, error) {
	body, err := c.Get(ctx, "/question/questionAndOptions?question_id="+strconv.FormatInt(questionID, 10))
	if err != nil {
		return Question{}, fmt.Errorf("failed to get question %d: %w", questionID, err)
	}

	var rows []QuestionOption
	if err := json.Unmarshal(body, &rows); err != nil {
		return Question{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	if len(rows) == 0 {
		return Question{}, fmt.Errorf("question %d has no options", questionID)
	}

	q := Question{ID: questionID, Text: rows[0].Question, Options: make([]string, 0, len(rows))}
	for _, r := range rows {
		q.Options = append(q.Options, r.OptionText)
	}
	return q, nil
}

// CorrectAnswer fetches the text of the correct option.
func (c *QuestionClient) CorrectAnswer(ctx context.Context, questionID int64) (string, error) {
	body, err := c.Get(ctx, "/question/correctAnswer?question_id="+strconv.FormatInt(questionID, 10))
	if err != nil {
		return "", fmt.Errorf("failed to get correct answer for %d: %w", questionID, err)
	}

	var resp correctAnswerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	if resp.CorrectAnswer == "" {
		return "", fmt.Errorf("question %d: empty correct answer", questionID)
	}
	return resp.CorrectAnswer, nil
}
