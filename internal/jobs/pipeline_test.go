package jobs_test

import (
	"context"
	"errors"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/internal/jobs"
)

// numbers pages through 1..total.
func numbers(p *jobs.Pipeline[int, int], total, pageSize int) {
	p.Next = func(_ context.Context, cursor string) ([]int, string, error) {
		start := 0
		if cursor != "" {
			start, _ = strconv.Atoi(cursor)
		}
		var page []int
		for n := start + 1; n <= total && len(page) < pageSize; n++ {
			page = append(page, n)
		}
		if len(page) == 0 {
			return nil, "", nil
		}
		return page, strconv.Itoa(page[len(page)-1]), nil
	}
	p.Reduce = func(items []int) []int {
		out := make([]int, len(items))
		for i, n := range items {
			out[i] = n * n
		}
		return out
	}
}

var _ = Describe("Pipeline", func() {
	var (
		ctx         context.Context
		checkpoints *jobs.RedisCheckpoints
	)

	BeforeEach(func() {
		ctx = context.Background()
		checkpoints = jobs.NewRedisCheckpoints(newRedis(), "checkpoints")
	})

	It("writes every page and clears its checkpoint", func() {
		var written []int
		p := jobs.NewPipeline[int, int]("squares", checkpoints)
		numbers(p, 5, 2)
		p.Write = func(_ context.Context, out []int) error {
			written = append(written, out...)
			return nil
		}

		stats, err := p.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(Equal([]int{1, 4, 9, 16, 25}))
		Expect(stats).To(Equal(jobs.Stats{Pages: 3, Items: 5, Outputs: 5}))

		cursor, err := checkpoints.Load(ctx, "squares")
		Expect(err).NotTo(HaveOccurred())
		Expect(cursor).To(BeEmpty())
	})

	It("resumes after the last completed page", func() {
		var written []int
		failures := 1
		p := jobs.NewPipeline[int, int]("squares", checkpoints)
		numbers(p, 6, 2)
		p.Write = func(_ context.Context, out []int) error {
			if out[0] == 9 && failures > 0 {
				failures--
				return errors.New("write failed")
			}
			written = append(written, out...)
			return nil
		}

		_, err := p.Run(ctx)
		Expect(err).To(MatchError(ContainSubstring("write failed")))
		cursor, err := checkpoints.Load(ctx, "squares")
		Expect(err).NotTo(HaveOccurred())
		Expect(cursor).To(Equal("2"))

		stats, err := p.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Pages).To(Equal(2))
		Expect(written).To(Equal([]int{1, 4, 9, 16, 25, 36}))
	})

	It("stops when the context is cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p := jobs.NewPipeline[int, int]("squares", jobs.NewMemoryCheckpoints())
		numbers(p, 3, 1)
		p.Write = func(context.Context, []int) error { return nil }

		_, err := p.Run(cctx)
		Expect(err).To(MatchError(context.Canceled))
	})
})
