package handler_test

import (
	"net/http"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/internal/http/dto"
	"threadline.app/feedback/internal/store/memory"
)

var _ = Describe("ContentHandler", func() {
	var (
		mem    *memory.Store
		router *gin.Engine
	)

	BeforeEach(func() {
		mem = memory.New()
		router = newTestRouter(mem)
	})

	It("creates an entity without owners as an empty owner list", func() {
		w := do(router, http.MethodPost, "/api/v1/entities", "alice", dto.CreateEntityRequest{
			EntityType: "exploration",
			ID:         "exp9",
			Title:      "Fractions",
		})
		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(w.Body.String()).To(ContainSubstring(`"owner_ids":[]`))

		w = do(router, http.MethodGet, "/api/v1/entities/exploration/exp9", "", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body := decode[map[string]any](w)
		Expect(body["owner_ids"]).To(BeEmpty())
		Expect(body["owner_ids"]).NotTo(BeNil())
	})

	It("requires an acting user", func() {
		w := do(router, http.MethodPost, "/api/v1/entities", "", dto.CreateEntityRequest{
			EntityType: "exploration",
			ID:         "exp9",
			Title:      "Fractions",
		})
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("returns 404 for an unknown entity", func() {
		w := do(router, http.MethodGet, "/api/v1/entities/exploration/nope", "", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})
