package handler_test

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/internal/http/dto"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store/memory"
)

var _ = Describe("SuggestionHandler", func() {
	var (
		mem    *memory.Store
		router *gin.Engine
	)

	BeforeEach(func() {
		mem = memory.New()
		router = newTestRouter(mem)
		seedUser(mem, "author")
		seedUser(mem, "reviewer")

		w := do(router, http.MethodPost, "/api/v1/entities", "reviewer", dto.CreateEntityRequest{
			EntityType: "exploration",
			ID:         "exp1",
			Title:      "Fractions",
			OwnerIDs:   []string{"reviewer"},
			States: map[string]model.State{
				"Intro": {Content: json.RawMessage(`"old content"`)},
			},
		})
		Expect(w.Code).To(Equal(http.StatusCreated))
	})

	createSuggestion := func(stateName string) model.Suggestion {
		w := do(router, http.MethodPost, "/api/v1/suggestions", "author", map[string]any{
			"suggestion_type": "edit",
			"entity_type":     "exploration",
			"sub_type":        "edit_exploration_state_content",
			"customization_args": map[string]string{
				"contribution_type":     "content",
				"contribution_category": "Algebra",
			},
			"description": "Clearer intro",
			"payload": map[string]any{
				"entity_id":             "exp1",
				"entity_version_number": 1,
				"change_list": map[string]any{
					"cmd":           "edit_state_property",
					"state_name":    stateName,
					"property_name": "content",
					"new_value":     "new content",
				},
			},
		})
		Expect(w.Code).To(Equal(http.StatusCreated), w.Body.String())
		return decode[model.Suggestion](w)
	}

	It("creates a suggestion in review with its thread", func() {
		sg := createSuggestion("Intro")
		Expect(sg.Status).To(Equal(model.SuggestionStatusInReview))
		Expect(sg.ScoreCategory).To(Equal("content.Algebra"))

		w := do(router, http.MethodGet, "/api/v1/threads/"+sg.ThreadID+"/suggestion", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode[model.Suggestion](w).ID).To(Equal(sg.ID))
	})

	It("rejects payloads missing required keys", func() {
		w := do(router, http.MethodPost, "/api/v1/suggestions", "author", map[string]any{
			"suggestion_type": "edit",
			"entity_type":     "exploration",
			"payload":         map[string]any{"entity_id": "exp1"},
		})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	DescribeTable("rejects add suggestions whose entity_data is not an object",
		func(entityData any) {
			w := do(router, http.MethodPost, "/api/v1/suggestions", "author", map[string]any{
				"suggestion_type": "add",
				"entity_type":     "exploration",
				"payload":         map[string]any{"entity_type": "exploration", "entity_data": entityData},
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest), w.Body.String())

			w = do(router, http.MethodGet, "/api/v1/suggestions?author_id=author", "", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode[dto.SuggestionListResponse](w).Suggestions).To(BeEmpty())
		},
		Entry("a string", "Decimals"),
		Entry("null", nil),
		Entry("a list", []string{"Decimals"}),
		Entry("mistyped states", map[string]any{"title": "Decimals", "states": 5}),
	)

	It("requires an actor to suggest", func() {
		w := do(router, http.MethodPost, "/api/v1/suggestions", "", map[string]any{})
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("accepts a suggestion into the entity once", func() {
		sg := createSuggestion("Intro")

		w := do(router, http.MethodPost, "/api/v1/suggestions/"+sg.ID+"/accept", "reviewer", dto.AcceptSuggestionRequest{CommitMessage: "   "})
		Expect(w.Code).To(Equal(http.StatusBadRequest))

		w = do(router, http.MethodPost, "/api/v1/suggestions/"+sg.ID+"/accept", "reviewer", dto.AcceptSuggestionRequest{CommitMessage: "Clearer intro"})
		Expect(w.Code).To(Equal(http.StatusOK))
		accepted := decode[model.Suggestion](w)
		Expect(accepted.Status).To(Equal(model.SuggestionStatusAccepted))
		Expect(*accepted.FinalReviewerID).To(Equal("reviewer"))

		w = do(router, http.MethodGet, "/api/v1/entities/exploration/exp1", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		entity := decode[model.Entity](w)
		Expect(entity.Version).To(Equal(2))
		Expect(string(entity.States["Intro"].Content)).To(Equal(`"new content"`))

		w = do(router, http.MethodPost, "/api/v1/suggestions/"+sg.ID+"/reject", "reviewer", nil)
		Expect(w.Code).To(Equal(http.StatusConflict))
	})

	It("returns 422 when accepting a suggestion whose state is gone", func() {
		sg := createSuggestion("Missing")

		w := do(router, http.MethodPost, "/api/v1/suggestions/"+sg.ID+"/accept", "reviewer", dto.AcceptSuggestionRequest{CommitMessage: "ok"})
		Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))

		w = do(router, http.MethodGet, "/api/v1/suggestions/"+sg.ID, "", nil)
		Expect(decode[model.Suggestion](w).Status).To(Equal(model.SuggestionStatusInvalid))
	})

	It("reports validity", func() {
		sg := createSuggestion("Intro")
		w := do(router, http.MethodPost, "/api/v1/suggestions/"+sg.ID+"/validate", "reviewer", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode[dto.ValidityResponse](w).Valid).To(BeTrue())
	})

	It("filters suggestions by query", func() {
		sg := createSuggestion("Intro")
		w := do(router, http.MethodPost, "/api/v1/suggestions/"+sg.ID+"/reject", "reviewer", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		createSuggestion("Intro")

		w = do(router, http.MethodGet, "/api/v1/suggestions?author_id=author&status=rejected", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		list := decode[dto.SuggestionListResponse](w)
		Expect(list.Suggestions).To(HaveLen(1))
		Expect(list.Suggestions[0].ID).To(Equal(sg.ID))

		w = do(router, http.MethodGet, "/api/v1/suggestions?status=pending", "", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for unknown suggestions", func() {
		w := do(router, http.MethodGet, "/api/v1/suggestions/edit.exploration.nope", "", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("serves the create schema", func() {
		w := do(router, http.MethodGet, "/api/v1/suggestions/schema", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		schema := decode[map[string]any](w)
		Expect(schema["properties"]).To(HaveKey("suggestion_type"))
		Expect(schema["properties"]).To(HaveKey("payload"))
	})

	It("returns user scores", func() {
		Expect(mem.Scores().Upsert(context.Background(), &model.ContributionScore{
			UserID:        "author",
			ScoreCategory: "content.Algebra",
			Score:         4,
		})).To(Succeed())

		w := do(router, http.MethodGet, "/api/v1/users/author/scores", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body := decode[dto.ScoresResponse](w)
		Expect(body.Scores).To(HaveLen(1))
		Expect(body.Scores[0].Score).To(Equal(4))
	})
})
