// Package bank holds the immutable, ordered question catalog.
package bank

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/backsoul/leadquiz/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed questions.json
var embeddedQuestions []byte

// Format is the encoding of a bank file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var ErrEmptyBank = errors.New("question bank is empty")

// Bank is an ordered, read-only list of questions with ids 1..N
type Bank struct {
	version   string
	questions []models.Question
	byID      map[int]int
	mcCount   int
}

// Default returns the bank compiled into the binary
func Default() (*Bank, error) {
	return Load(embeddedQuestions, FormatJSON)
}

// LoadFile reads a bank from disk, picking the format from the extension
func LoadFile(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading question bank %s: %w", path, err)
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return Load(data, format)
}

// Load decodes and validates a bank
func Load(data []byte, format Format) (*Bank, error) {
	var file models.QuestionsData
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing question bank: %w", err)
	}
	b, err := FromRecords(file.Questions)
	if err != nil {
		return nil, err
	}
	b.version = file.Version
	return b, nil
}

// FromRecords validates records and builds a bank from them, keeping their order
func FromRecords(records []models.QuestionRecord) (*Bank, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBank
	}
	b := &Bank{
		questions: make([]models.Question, 0, len(records)),
		byID:      make(map[int]int, len(records)),
	}
	for i, r := range records {
		q, err := toQuestion(r)
		if err != nil {
			return nil, err
		}
		if q.ID != i+1 {
			return nil, fmt.Errorf("question at position %d has id %d, ids must run 1..N in order", i+1, q.ID)
		}
		if q.IsMultipleChoice() {
			b.mcCount++
		}
		b.byID[q.ID] = len(b.questions)
		b.questions = append(b.questions, q)
	}
	return b, nil
}

// New builds a bank from already constructed questions
func New(questions ...models.Question) (*Bank, error) {
	records := make([]models.QuestionRecord, len(questions))
	for i, q := range questions {
		records[i] = q.Record()
	}
	return FromRecords(records)
}

func toQuestion(r models.QuestionRecord) (models.Question, error) {
	if strings.TrimSpace(r.Question) == "" {
		return models.Question{}, fmt.Errorf("question %d: empty prompt", r.ID)
	}
	switch r.Type {
	case models.KindMultipleChoice:
		if len(r.Options) < 2 {
			return models.Question{}, fmt.Errorf("question %d: multiple choice needs at least 2 options, has %d", r.ID, len(r.Options))
		}
		matches := 0
		for _, opt := range r.Options {
			if opt == r.CorrectAnswer {
				matches++
			}
		}
		if matches != 1 {
			return models.Question{}, fmt.Errorf("question %d: correct answer must match exactly one option, matches %d", r.ID, matches)
		}
		return models.NewMultipleChoice(r.ID, r.Question, r.Category, r.Options, r.CorrectAnswer), nil
	case models.KindShortAnswer, models.KindLongAnswer:
		maxLength := 0
		if r.MaxLength != nil {
			if *r.MaxLength < 0 {
				return models.Question{}, fmt.Errorf("question %d: negative max_length", r.ID)
			}
			maxLength = *r.MaxLength
		}
		return models.NewTextQuestion(r.ID, r.Question, r.Category, r.Type, maxLength), nil
	default:
		return models.Question{}, fmt.Errorf("question %d: unknown type %q", r.ID, r.Type)
	}
}

func (b *Bank) Version() string { return b.version }

func (b *Bank) Len() int { return len(b.questions) }

// MultipleChoiceCount is the number of auto-scored questions
func (b *Bank) MultipleChoiceCount() int { return b.mcCount }

// At returns the question at a 0-based position
func (b *Bank) At(index int) (models.Question, bool) {
	if index < 0 || index >= len(b.questions) {
		return models.Question{}, false
	}
	return b.questions[index], true
}

// Get returns the question with the given id
func (b *Bank) Get(id int) (models.Question, bool) {
	i, ok := b.byID[id]
	if !ok {
		return models.Question{}, false
	}
	return b.questions[i], true
}

// Questions returns the questions in bank order. The slice is a copy.
func (b *Bank) Questions() []models.Question {
	out := make([]models.Question, len(b.questions))
	copy(out, b.questions)
	return out
}

// Public returns the respondent-facing questions in bank order
func (b *Bank) Public() []models.PublicQuestion {
	out := make([]models.PublicQuestion, len(b.questions))
	for i, q := range b.questions {
		out[i] = q.Public()
	}
	return out
}

// Records returns the full wire form, scoring keys included
func (b *Bank) Records() []models.QuestionRecord {
	out := make([]models.QuestionRecord, len(b.questions))
	for i, q := range b.questions {
		out[i] = q.Record()
	}
	return out
}
