// Package questions loads and validates question sets.
package questions

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeLimit = 30
	MinTimeLimit     = 5
	MaxTimeLimit     = 300
	MinOptions       = 2
)

var ErrInvalid = errors.New("invalid question")

//go:embed sample.yaml
var sampleYAML []byte

// Spec is one question as a host writes it, before it belongs to a game.
type Spec struct {
	QuestionText  string   `json:"question_text" yaml:"question_text" binding:"required"`
	Options       []string `json:"options" yaml:"options" binding:"required,min=2"`
	CorrectAnswer int      `json:"correct_answer" yaml:"correct_answer"`
	TimeLimit     int      `json:"time_limit" yaml:"time_limit"` // seconds, 0 means default
}

type Set []Spec

// Normalize fills defaults and checks the question is playable.
func (s *Spec) Normalize() error {
	s.QuestionText = strings.TrimSpace(s.QuestionText)
	if s.QuestionText == "" {
		return fmt.Errorf("%w: question text is required", ErrInvalid)
	}
	if len(s.Options) < MinOptions {
		return fmt.Errorf("%w: %q needs at least %d options", ErrInvalid, s.QuestionText, MinOptions)
	}
	for i, opt := range s.Options {
		s.Options[i] = strings.TrimSpace(opt)
		if s.Options[i] == "" {
			return fmt.Errorf("%w: %q has an empty option %d", ErrInvalid, s.QuestionText, i)
		}
	}
	if s.CorrectAnswer < 0 || s.CorrectAnswer >= len(s.Options) {
		return fmt.Errorf("%w: %q correct answer %d out of range", ErrInvalid, s.QuestionText, s.CorrectAnswer)
	}
	if s.TimeLimit == 0 {
		s.TimeLimit = DefaultTimeLimit
	}
	if s.TimeLimit < MinTimeLimit || s.TimeLimit > MaxTimeLimit {
		return fmt.Errorf("%w: %q time limit must be between %d and %d seconds", ErrInvalid, s.QuestionText, MinTimeLimit, MaxTimeLimit)
	}
	return nil
}

// Normalize validates every question; an empty set is invalid.
func (set Set) Normalize() error {
	if len(set) == 0 {
		return fmt.Errorf("%w: please add at least one question", ErrInvalid)
	}
	for i := range set {
		if err := set[i].Normalize(); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return nil
}

// Parse decodes a YAML question set.
func Parse(data []byte) (Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse question set: %w", err)
	}
	if err := set.Normalize(); err != nil {
		return nil, err
	}
	return set, nil
}

func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question set: %w", err)
	}
	return Parse(data)
}

// Sample returns a fresh copy of the built-in demo set.
func Sample() Set {
	set, err := Parse(sampleYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded sample questions: %v", err))
	}
	return set
}
