package handler_test

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/internal/http/dto"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store/memory"
)

var _ = Describe("FeedbackHandler", func() {
	var (
		mem    *memory.Store
		router *gin.Engine
	)

	BeforeEach(func() {
		mem = memory.New()
		router = newTestRouter(mem)
		seedUser(mem, "alice")
		seedUser(mem, "bob")
	})

	createThread := func(actor string) dto.ThreadResponse {
		w := do(router, http.MethodPost, "/api/v1/threads", actor, dto.CreateThreadRequest{
			EntityType: "exploration",
			EntityID:   "exp1",
			Subject:    "Typo",
			Text:       "There is a typo in the intro",
		})
		Expect(w.Code).To(Equal(http.StatusCreated))
		return decode[dto.ThreadResponse](w)
	}

	It("creates a thread with its first message", func() {
		thread := createThread("alice")
		Expect(thread.Status).To(Equal(model.ThreadStatusOpen))
		Expect(thread.MessageCount).To(Equal(1))
		Expect(*thread.OriginalAuthorID).To(Equal("alice"))

		w := do(router, http.MethodGet, "/api/v1/threads/"+thread.ID+"/messages", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body := decode[struct {
			Messages []model.Message `json:"messages"`
		}](w)
		Expect(body.Messages).To(HaveLen(1))
		Expect(body.Messages[0].Text).To(Equal("There is a typo in the intro"))
	})

	It("accepts anonymous threads", func() {
		thread := createThread("")
		Expect(thread.OriginalAuthorID).To(BeNil())
	})

	It("returns 400 when the entity is missing", func() {
		w := do(router, http.MethodPost, "/api/v1/threads", "alice", map[string]string{"text": "hi"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for unknown threads", func() {
		w := do(router, http.MethodGet, "/api/v1/threads/exploration.exp1.missing", "", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))

		w = do(router, http.MethodPost, "/api/v1/threads/exploration.exp1.missing/messages", "alice", dto.CreateMessageRequest{Text: "hi"})
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("posts a status change and rejects unknown statuses", func() {
		thread := createThread("alice")

		fixed := model.ThreadStatusFixed
		w := do(router, http.MethodPost, "/api/v1/threads/"+thread.ID+"/messages", "bob", dto.CreateMessageRequest{
			UpdatedStatus: &fixed,
			Text:          "Fixed, thanks",
		})
		Expect(w.Code).To(Equal(http.StatusCreated))
		msg := decode[model.Message](w)
		Expect(msg.MessageID).To(Equal(1))

		w = do(router, http.MethodGet, "/api/v1/threads/"+thread.ID, "", nil)
		Expect(decode[dto.ThreadResponse](w).Status).To(Equal(model.ThreadStatusFixed))

		bogus := model.ThreadStatus("bogus")
		w = do(router, http.MethodPost, "/api/v1/threads/"+thread.ID+"/messages", "bob", dto.CreateMessageRequest{UpdatedStatus: &bogus})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("lists threads of an entity with an optional suggestion filter", func() {
		createThread("alice")
		createThread("bob")

		w := do(router, http.MethodGet, "/api/v1/entities/exploration/exp1/threads", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body := decode[struct {
			Threads []dto.ThreadResponse `json:"threads"`
		}](w)
		Expect(body.Threads).To(HaveLen(2))

		w = do(router, http.MethodGet, "/api/v1/entities/exploration/exp1/threads?has_suggestion=true", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body = decode[struct {
			Threads []dto.ThreadResponse `json:"threads"`
		}](w)
		Expect(body.Threads).To(BeEmpty())

		w = do(router, http.MethodGet, "/api/v1/entities/exploration/exp1/threads?has_suggestion=maybe", "", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("tracks read state through summaries", func() {
		thread := createThread("alice")
		w := do(router, http.MethodPost, "/api/v1/threads/"+thread.ID+"/messages", "alice", dto.CreateMessageRequest{Text: "more detail"})
		Expect(w.Code).To(Equal(http.StatusCreated))

		summaries := func() dto.ThreadSummariesResponse {
			w := do(router, http.MethodPost, "/api/v1/threads/summaries", "bob", dto.ThreadSummariesRequest{ThreadIDs: []string{thread.ID}})
			Expect(w.Code).To(Equal(http.StatusOK))
			return decode[dto.ThreadSummariesResponse](w)
		}

		before := summaries()
		Expect(before.Summaries).To(HaveLen(1))
		Expect(before.Summaries[0].TotalMessageCount).To(Equal(2))
		Expect(before.NumberOfUnreadThreads).To(Equal(1))

		w = do(router, http.MethodPost, "/api/v1/threads/"+thread.ID+"/read", "bob", dto.MarkReadRequest{MessageIDs: []int{0, 1}})
		Expect(w.Code).To(Equal(http.StatusNoContent))

		after := summaries()
		Expect(after.Summaries[0].LastMessageRead).To(BeTrue())
		Expect(after.NumberOfUnreadThreads).To(Equal(0))
	})

	It("requires an actor for read state", func() {
		w := do(router, http.MethodPost, "/api/v1/threads/summaries", "", dto.ThreadSummariesRequest{ThreadIDs: []string{"x"}})
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("deletes a message", func() {
		thread := createThread("alice")
		w := do(router, http.MethodDelete, "/api/v1/threads/"+thread.ID+"/messages/0", "alice", nil)
		Expect(w.Code).To(Equal(http.StatusNoContent))

		w = do(router, http.MethodGet, "/api/v1/threads/"+thread.ID+"/messages/0", "", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))

		w = do(router, http.MethodGet, "/api/v1/threads/"+thread.ID+"/messages/x", "", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("reports precomputed analytics with zeros for unknown entities", func() {
		Expect(mem.Analytics().Upsert(context.Background(), &model.ThreadAnalytics{
			EntityType:      "exploration",
			EntityID:        "exp1",
			NumOpenThreads:  2,
			NumTotalThreads: 3,
		})).To(Succeed())

		w := do(router, http.MethodGet, "/api/v1/analytics?entity_type=exploration&entity_id=exp1&entity_id=exp2", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body := decode[dto.AnalyticsResponse](w)
		Expect(body.Analytics).To(HaveLen(2))
		Expect(body.Analytics[1].NumTotalThreads).To(Equal(0))
		Expect(body.TotalOpenThreads).To(Equal(2))

		w = do(router, http.MethodGet, "/api/v1/analytics?entity_type=exploration", "", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 500 when the transaction fails", func() {
		mem.FailNextTx = context.DeadlineExceeded
		w := do(router, http.MethodPost, "/api/v1/threads", "alice", dto.CreateThreadRequest{EntityType: "exploration", EntityID: "exp1", Text: "hi"})
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
