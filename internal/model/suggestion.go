package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SuggestionType string

const (
	SuggestionTypeEdit SuggestionType = "edit"
	SuggestionTypeAdd  SuggestionType = "add"
)

func (t SuggestionType) IsValid() bool {
	return t == SuggestionTypeEdit || t == SuggestionTypeAdd
}

type SuggestionSubType string

const (
	SubTypeEditStateContent SuggestionSubType = "edit_exploration_state_content"
)

type SuggestionStatus string

const (
	SuggestionStatusInReview SuggestionStatus = "in_review"
	SuggestionStatusAccepted SuggestionStatus = "accepted"
	SuggestionStatusInvalid  SuggestionStatus = "invalid"
	SuggestionStatusRejected SuggestionStatus = "rejected"
)

func (s SuggestionStatus) IsValid() bool {
	switch s {
	case SuggestionStatusInReview, SuggestionStatusAccepted,
		SuggestionStatusInvalid, SuggestionStatusRejected:
		return true
	}
	return false
}

func (s SuggestionStatus) IsTerminal() bool {
	return s == SuggestionStatusAccepted || s == SuggestionStatusInvalid || s == SuggestionStatusRejected
}

// DefaultSuggestionSubject is the subject of the thread backing a suggestion.
const DefaultSuggestionSubject = "Suggestion from a learner"

// NewEntityPlaceholderID is the entity id threads of add suggestions attach to.
const NewEntityPlaceholderID = "new"

// ErrInvalidPayload is returned when a payload misses fields its type requires.
var ErrInvalidPayload = errors.New("invalid suggestion payload")

// Payload is the typed body of a suggestion: EditPayload or AddPayload.
type Payload interface {
	SuggestionType() SuggestionType
	Validate() error
}

// ChangeCmd is a single content change applied to a target entity.
type ChangeCmd struct {
	Cmd          string          `json:"cmd"`
	StateName    string          `json:"state_name"`
	PropertyName string          `json:"property_name,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
	OldValue     json.RawMessage `json:"old_value,omitempty"`
}

const (
	CmdEditStateProperty = "edit_state_property"
	StatePropertyContent = "content"
)

type EditPayload struct {
	EntityID            string    `json:"entity_id"`
	EntityVersionNumber int       `json:"entity_version_number"`
	ChangeList          ChangeCmd `json:"change_list"`
}

func (EditPayload) SuggestionType() SuggestionType { return SuggestionTypeEdit }

func (p EditPayload) Validate() error {
	if p.EntityID == "" {
		return fmt.Errorf("%w: entity_id is empty", ErrInvalidPayload)
	}
	if p.EntityVersionNumber < 0 {
		return fmt.Errorf("%w: entity_version_number is negative", ErrInvalidPayload)
	}
	return nil
}

type AddPayload struct {
	EntityType string          `json:"entity_type"`
	EntityData json.RawMessage `json:"entity_data"`
}

func (AddPayload) SuggestionType() SuggestionType { return SuggestionTypeAdd }

func (p AddPayload) Validate() error {
	if p.EntityType == "" {
		return fmt.Errorf("%w: entity_type is empty", ErrInvalidPayload)
	}
	if _, err := p.Data(); err != nil {
		return err
	}
	return nil
}

// NewEntityData is the entity_data body of an add suggestion.
type NewEntityData struct {
	Title  string           `json:"title"`
	States map[string]State `json:"states"`
}

// Data decodes entity_data. It must be a JSON object.
func (p AddPayload) Data() (NewEntityData, error) {
	var data NewEntityData
	trimmed := bytes.TrimSpace(p.EntityData)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data, fmt.Errorf("%w: entity_data must be an object", ErrInvalidPayload)
	}
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return data, fmt.Errorf("%w: entity_data: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

var requiredPayloadKeys = map[SuggestionType][]string{
	SuggestionTypeEdit: {"entity_id", "entity_version_number", "change_list"},
	SuggestionTypeAdd:  {"entity_type", "entity_data"},
}

// DecodePayload checks raw against the key contract of the suggestion type
// and decodes it into the matching payload variant.
func DecodePayload(t SuggestionType, raw json.RawMessage) (Payload, error) {
	required, ok := requiredPayloadKeys[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown suggestion type %q", ErrInvalidPayload, t)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var missing []string
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}

	var p Payload
	switch t {
	case SuggestionTypeEdit:
		var edit EditPayload
		if err := json.Unmarshal(raw, &edit); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p = edit
	case SuggestionTypeAdd:
		var add AddPayload
		if err := json.Unmarshal(raw, &add); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p = add
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// CustomizationArgs describe what kind of contribution a suggestion is.
type CustomizationArgs struct {
	ContributionType     string `json:"contribution_type"`
	ContributionCategory string `json:"contribution_category,omitempty"`
	LanguageCode         string `json:"language_code,omitempty"`
}

// ScoreCategory joins the contribution type with its category, or its
// language for translations: "content.Algebra", "translation.hi".
func (a CustomizationArgs) ScoreCategory() string {
	label := a.ContributionCategory
	if label == "" {
		label = a.LanguageCode
	}
	return a.ContributionType + "." + label
}

type Suggestion struct {
	ID                 string            `json:"id"`
	SuggestionType     SuggestionType    `json:"suggestion_type"`
	SubType            SuggestionSubType `json:"sub_type,omitempty"`
	EntityType         string            `json:"entity_type"`
	Status             SuggestionStatus  `json:"status"`
	AuthorID           string            `json:"author_id"`
	FinalReviewerID    *string           `json:"final_reviewer_id,omitempty"`
	AssignedReviewerID *string           `json:"assigned_reviewer_id,omitempty"`
	ThreadID           string            `json:"thread_id"`
	TargetID           string            `json:"target_id"`
	TargetVersion      *int              `json:"target_version,omitempty"`
	Payload            Payload           `json:"payload"`
	CustomizationArgs  CustomizationArgs `json:"customization_args"`
	ScoreCategory      string            `json:"score_category"`
	CreatedOn          time.Time         `json:"created_on"`
	LastUpdated        time.Time         `json:"last_updated"`
}

// NewSuggestionID builds "suggestion_type.entity_type.thread_id[.entity_id]".
func NewSuggestionID(t SuggestionType, entityType, threadID, entityID string) string {
	id := string(t) + "." + entityType + "." + threadID
	if entityID != "" {
		id += "." + entityID
	}
	return id
}

// PayloadTarget returns the id and version a payload targets. Add payloads
// have no existing target.
func PayloadTarget(p Payload) (targetID string, version *int) {
	switch v := p.(type) {
	case EditPayload:
		n := v.EntityVersionNumber
		return v.EntityID, &n
	case AddPayload:
		return "", nil
	}
	return "", nil
}

// UnmarshalJSON decodes the payload into the variant named by
// suggestion_type.
func (s *Suggestion) UnmarshalJSON(data []byte) error {
	type plain Suggestion
	var raw struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Suggestion(raw.plain)
	s.Payload = nil
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}
	p, err := DecodePayload(s.SuggestionType, raw.Payload)
	if err != nil {
		return err
	}
	s.Payload = p
	return nil
}
