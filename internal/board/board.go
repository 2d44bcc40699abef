package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyTitle    = errors.New("category title is empty")
	ErrEmptyPrompt   = errors.New("question prompt is empty")
	ErrNegativeValue = errors.New("question value is negative")
	ErrUnknownFormat = errors.New("unrecognized board format")
)

type Question struct {
	Prompt   string `json:"prompt" yaml:"prompt"`
	Answer   string `json:"answer" yaml:"answer"`
	Value    int    `json:"value" yaml:"value"`
	Answered bool   `json:"answered" yaml:"answered"`
}

// UnmarshalJSON also accepts the older "question" key for the prompt.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw struct {
		Prompt   string `json:"prompt"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
		Value    int    `json:"value"`
		Answered bool   `json:"answered"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Prompt = raw.Prompt
	if q.Prompt == "" {
		q.Prompt = raw.Question
	}
	q.Answer = raw.Answer
	q.Value = raw.Value
	q.Answered = raw.Answered
	return nil
}

type Category struct {
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Board is the ordered category list a game is played on.
type Board []Category

// Clone returns a deep copy so rooms never share answered flags.
func (b Board) Clone() Board {
	if b == nil {
		return nil
	}
	out := make(Board, len(b))
	for i, c := range b {
		qs := make([]Question, len(c.Questions))
		copy(qs, c.Questions)
		out[i] = Category{Title: c.Title, Questions: qs}
	}
	return out
}

// Reset clears every answered flag.
func (b Board) Reset() {
	for i := range b {
		for j := range b[i].Questions {
			b[i].Questions[j].Answered = false
		}
	}
}

// Remaining reports how many questions are still unanswered.
func (b Board) Remaining() int {
	n := 0
	for _, c := range b {
		for _, q := range c.Questions {
			if !q.Answered {
				n++
			}
		}
	}
	return n
}

func (b Board) Validate() error {
	for i, c := range b {
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("category %d: %w", i, ErrEmptyTitle)
		}
		for j, q := range c.Questions {
			if strings.TrimSpace(q.Prompt) == "" {
				return fmt.Errorf("category %d question %d: %w", i, j, ErrEmptyPrompt)
			}
			if q.Value < 0 {
				return fmt.Errorf("category %d question %d: %w", i, j, ErrNegativeValue)
			}
		}
	}
	return nil
}

// game-file shape: {game: {single: [{category, clues: [{value, clue, solution}]}]}}
type gameFile struct {
	Game struct {
		Single []gameFileCategory `json:"single" yaml:"single"`
	} `json:"game" yaml:"game"`
}

type gameFileCategory struct {
	Category string         `json:"category" yaml:"category"`
	Clues    []gameFileClue `json:"clues" yaml:"clues"`
}

type gameFileClue struct {
	Value    int    `json:"value" yaml:"value"`
	Clue     string `json:"clue" yaml:"clue"`
	Solution string `json:"solution" yaml:"solution"`
}

func (g gameFile) board() Board {
	out := make(Board, 0, len(g.Game.Single))
	for _, c := range g.Game.Single {
		cat := Category{Title: c.Category, Questions: make([]Question, 0, len(c.Clues))}
		for _, clue := range c.Clues {
			cat.Questions = append(cat.Questions, Question{
				Prompt: clue.Clue,
				Answer: clue.Solution,
				Value:  clue.Value,
			})
		}
		out = append(out, cat)
	}
	return out
}

// yamlQuestion mirrors Question for YAML so the "question" alias works there too.
type yamlQuestion struct {
	Prompt   string `yaml:"prompt"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Value    int    `yaml:"value"`
}

type yamlCategory struct {
	Title     string         `yaml:"title"`
	Questions []yamlQuestion `yaml:"questions"`
}

// ParseJSON decodes either a category list or a game file.
func ParseJSON(data []byte) (Board, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, ErrUnknownFormat
	}
	var b Board
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decoding categories: %w", err)
		}
	case '{':
		var gf gameFile
		if err := json.Unmarshal(data, &gf); err != nil {
			return nil, fmt.Errorf("decoding game file: %w", err)
		}
		if gf.Game.Single == nil {
			return nil, ErrUnknownFormat
		}
		b = gf.board()
	default:
		return nil, ErrUnknownFormat
	}
	b.Reset()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseYAML decodes either a category list or a game file.
func ParseYAML(data []byte) (Board, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decoding yaml board: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, ErrUnknownFormat
	}

	var b Board
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		var cats []yamlCategory
		if err := node.Decode(&cats); err != nil {
			return nil, fmt.Errorf("decoding categories: %w", err)
		}
		b = make(Board, 0, len(cats))
		for _, c := range cats {
			cat := Category{Title: c.Title, Questions: make([]Question, 0, len(c.Questions))}
			for _, q := range c.Questions {
				prompt := q.Prompt
				if prompt == "" {
					prompt = q.Question
				}
				cat.Questions = append(cat.Questions, Question{Prompt: prompt, Answer: q.Answer, Value: q.Value})
			}
			b = append(b, cat)
		}
	case yaml.MappingNode:
		var gf gameFile
		if err := node.Decode(&gf); err != nil {
			return nil, fmt.Errorf("decoding game file: %w", err)
		}
		if gf.Game.Single == nil {
			return nil, ErrUnknownFormat
		}
		b = gf.board()
	default:
		return nil, ErrUnknownFormat
	}
	b.Reset()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Load reads a board file, picking the decoder from the extension.
func Load(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading board: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}
