package models

// QuestionKind identifies the answer format of a question
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindShortAnswer    QuestionKind = "short_answer"
	KindLongAnswer     QuestionKind = "long_answer"
)

// Valid reports whether k is one of the known kinds
func (k QuestionKind) Valid() bool {
	switch k {
	case KindMultipleChoice, KindShortAnswer, KindLongAnswer:
		return true
	}
	return false
}

// MultipleChoice holds the scoring key of a multiple choice question
type MultipleChoice struct {
	Options       []string
	CorrectAnswer string
}

// TextAnswer holds the constraints of a free-text question. MaxLength 0 means uncapped.
type TextAnswer struct {
	MaxLength int
}

// Question is one entry of the question bank. Exactly one of MultipleChoice
// and Text is set, matching Kind.
type Question struct {
	ID       int
	Prompt   string
	Category string
	Kind     QuestionKind

	MultipleChoice *MultipleChoice
	Text           *TextAnswer
}

// NewMultipleChoice builds a multiple choice question
func NewMultipleChoice(id int, prompt, category string, options []string, correct string) Question {
	opts := make([]string, len(options))
	copy(opts, options)
	return Question{
		ID:             id,
		Prompt:         prompt,
		Category:       category,
		Kind:           KindMultipleChoice,
		MultipleChoice: &MultipleChoice{Options: opts, CorrectAnswer: correct},
	}
}

// NewTextQuestion builds a short or long answer question
func NewTextQuestion(id int, prompt, category string, kind QuestionKind, maxLength int) Question {
	return Question{
		ID:       id,
		Prompt:   prompt,
		Category: category,
		Kind:     kind,
		Text:     &TextAnswer{MaxLength: maxLength},
	}
}

// IsMultipleChoice reports whether the question is auto-scored
func (q Question) IsMultipleChoice() bool {
	return q.Kind == KindMultipleChoice && q.MultipleChoice != nil
}

// MaxLength returns the character cap of a text question, 0 when uncapped or not a text question
func (q Question) MaxLength() int {
	if q.Text == nil {
		return 0
	}
	return q.Text.MaxLength
}

// Record converts the question to its flat wire form
func (q Question) Record() QuestionRecord {
	r := QuestionRecord{
		ID:       q.ID,
		Question: q.Prompt,
		Category: q.Category,
		Type:     q.Kind,
	}
	if q.MultipleChoice != nil {
		r.Options = append([]string(nil), q.MultipleChoice.Options...)
		r.CorrectAnswer = q.MultipleChoice.CorrectAnswer
	}
	if q.Text != nil && q.Text.MaxLength > 0 {
		ml := q.Text.MaxLength
		r.MaxLength = &ml
	}
	return r
}

// Public strips the scoring key and category for respondents
func (q Question) Public() PublicQuestion {
	p := PublicQuestion{
		ID:       q.ID,
		Question: q.Prompt,
		Type:     q.Kind,
	}
	if q.MultipleChoice != nil {
		p.Options = append([]string(nil), q.MultipleChoice.Options...)
	}
	if q.Text != nil && q.Text.MaxLength > 0 {
		ml := q.Text.MaxLength
		p.MaxLength = &ml
	}
	return p
}

// QuestionRecord is the stored and file representation of a question
type QuestionRecord struct {
	ID            int          `json:"id" yaml:"id"`
	Question      string       `json:"question" yaml:"question"`
	Options       []string     `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty" yaml:"correct_answer,omitempty"`
	Category      string       `json:"category" yaml:"category"`
	Type          QuestionKind `json:"type" yaml:"type"`
	MaxLength     *int         `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// PublicQuestion is what a respondent is shown
type PublicQuestion struct {
	ID        int          `json:"id"`
	Question  string       `json:"question"`
	Options   []string     `json:"options,omitempty"`
	Type      QuestionKind `json:"type"`
	MaxLength *int         `json:"max_length,omitempty"`
}

// QuestionsData is the layout of a question bank file
type QuestionsData struct {
	Version   string           `json:"version" yaml:"version"`
	Questions []QuestionRecord `json:"questions" yaml:"questions"`
}

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Fields  interface{} `json:"fields,omitempty"`
}
