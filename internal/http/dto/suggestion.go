package dto

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"threadline.app/feedback/internal/model"
)

// CreateSuggestionRequest is the body of POST /suggestions. The payload
// shape depends on suggestion_type: edit payloads need entity_id,
// entity_version_number and change_list, add payloads need entity_type and
// entity_data.
type CreateSuggestionRequest struct {
	SuggestionType     model.SuggestionType    `json:"suggestion_type" binding:"required" jsonschema:"enum=edit,enum=add"`
	EntityType         string                  `json:"entity_type" binding:"required" jsonschema:"minLength=1"`
	SubType            model.SuggestionSubType `json:"sub_type,omitempty" jsonschema:"enum=edit_exploration_state_content"`
	CustomizationArgs  model.CustomizationArgs `json:"customization_args"`
	Payload            json.RawMessage         `json:"payload" binding:"required" jsonschema:"type=object"`
	Description        string                  `json:"description"`
	FinalReviewerID    *string                 `json:"final_reviewer_id,omitempty"`
	AssignedReviewerID *string                 `json:"assigned_reviewer_id,omitempty"`
}

type AcceptSuggestionRequest struct {
	CommitMessage string `json:"commit_message"`
}

type ValidityResponse struct {
	SuggestionID string `json:"suggestion_id"`
	Valid        bool   `json:"valid"`
}

type SuggestionListResponse struct {
	Suggestions []model.Suggestion `json:"suggestions"`
}

type ScoresResponse struct {
	UserID string                    `json:"user_id"`
	Scores []model.ContributionScore `json:"scores"`
}

// CreateSuggestionSchema describes CreateSuggestionRequest for clients
// building suggestion forms.
func CreateSuggestionSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&CreateSuggestionRequest{})
}
