package inbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ActionChoice is one option offered to the operator.
type ActionChoice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ActionRequest is written by the loop when it needs an operator decision.
type ActionRequest struct {
	ID      string         `json:"id"`
	Prompt  string         `json:"prompt"`
	Choices []ActionChoice `json:"choices"`
	Default string         `json:"default"`
}

// ActionReply answers the ActionRequest whose ID it carries.
type ActionReply struct {
	ID     string `json:"id"`
	Choice string `json:"choice"`
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(prompt string, choices []ActionChoice, defaultID string) (ActionRequest, error) {
	req := ActionRequest{
		ID:      uuid.NewString(),
		Prompt:  prompt,
		Choices: choices,
		Default: defaultID,
	}
	if err := req.Validate(); err != nil {
		return ActionRequest{}, err
	}
	return req, nil
}

// Validate checks the invariants a reader relies on: at least one choice and a
// default that names one of them.
func (r ActionRequest) Validate() error {
	if len(r.Choices) == 0 {
		return fmt.Errorf("action request %q has no choices", r.ID)
	}
	if !r.HasChoice(r.Default) {
		return fmt.Errorf("action request %q default %q is not one of its choices", r.ID, r.Default)
	}
	return nil
}

// HasChoice reports whether id is one of the offered choices.
func (r ActionRequest) HasChoice(id string) bool {
	for _, c := range r.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Label returns the label for a choice id, or the id itself when unknown.
func (r ActionRequest) Label(id string) string {
	for _, c := range r.Choices {
		if c.ID == id {
			return c.Label
		}
	}
	return id
}

// Answers reports whether the reply is correlated with req and picks one of
// its choices.
func (r ActionReply) Answers(req ActionRequest) bool {
	return r.ID == req.ID && req.HasChoice(r.Choice)
}

// Wire shapes use pointers so a missing key can be told apart from an empty
// string.
type wireChoice struct {
	ID    *string `json:"id"`
	Label *string `json:"label"`
}

type wireRequest struct {
	ID      *string       `json:"id"`
	Prompt  *string       `json:"prompt"`
	Choices *[]wireChoice `json:"choices"`
	Default *string       `json:"default"`
}

type wireReply struct {
	ID     *string `json:"id"`
	Choice *string `json:"choice"`
}

func decodeRequest(path string, data []byte) (*ActionRequest, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &MalformedError{Path: path, Reason: "invalid JSON", Err: err}
	}
	switch {
	case w.ID == nil:
		return nil, &MalformedError{Path: path, Reason: "missing id"}
	case w.Prompt == nil:
		return nil, &MalformedError{Path: path, Reason: "missing prompt"}
	case w.Choices == nil:
		return nil, &MalformedError{Path: path, Reason: "missing choices"}
	case w.Default == nil:
		return nil, &MalformedError{Path: path, Reason: "missing default"}
	case len(*w.Choices) == 0:
		return nil, &MalformedError{Path: path, Reason: "empty choices"}
	}

	req := &ActionRequest{
		ID:      *w.ID,
		Prompt:  *w.Prompt,
		Default: *w.Default,
		Choices: make([]ActionChoice, 0, len(*w.Choices)),
	}
	for i, c := range *w.Choices {
		if c.ID == nil || c.Label == nil {
			return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("choice %d missing id or label", i)}
		}
		req.Choices = append(req.Choices, ActionChoice{ID: *c.ID, Label: *c.Label})
	}
	if !req.HasChoice(req.Default) {
		return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("default %q is not a choice", req.Default)}
	}
	return req, nil
}

func decodeReply(path string, data []byte) (*ActionReply, error) {
	var w wireReply
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &MalformedError{Path: path, Reason: "invalid JSON", Err: err}
	}
	if w.ID == nil || w.Choice == nil {
		return nil, &MalformedError{Path: path, Reason: "missing id or choice"}
	}
	return &ActionReply{ID: *w.ID, Choice: *w.Choice}, nil
}
