package jobs

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
)

const ScoringJobName = "scoring"

// AuthorSuggestions holds every suggestion of one author.
type AuthorSuggestions struct {
	AuthorID    string
	Suggestions []model.Suggestion
}

// NewScoringJob sets each (author, score category) score to the number of
// that author's accepted suggestions in the category. Pages are cut by
// author so every count is complete within its page, and rerunning the job
// overwrites scores instead of adding to them.
func NewScoringJob(stores service.StoreProvider, checkpoints Checkpoints, pageSize int) *Pipeline[AuthorSuggestions, model.ContributionScore] {
	p := NewPipeline[AuthorSuggestions, model.ContributionScore](ScoringJobName, checkpoints)

	p.Next = func(ctx context.Context, cursor string) ([]AuthorSuggestions, string, error) {
		authors, err := stores.Suggestions().ListAuthorsAfter(ctx, cursor, pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(authors) == 0 {
			return nil, "", nil
		}
		suggestions, err := stores.Suggestions().ListByAuthors(ctx, authors)
		if err != nil {
			return nil, "", err
		}
		byAuthor := make(map[string][]model.Suggestion, len(authors))
		for _, s := range suggestions {
			byAuthor[s.AuthorID] = append(byAuthor[s.AuthorID], s)
		}
		items := make([]AuthorSuggestions, len(authors))
		for i, a := range authors {
			items[i] = AuthorSuggestions{AuthorID: a, Suggestions: byAuthor[a]}
		}
		return items, authors[len(authors)-1], nil
	}

	p.Reduce = reduceScores

	p.Write = func(ctx context.Context, scores []model.ContributionScore) error {
		now := time.Now().UTC()
		for i := range scores {
			scores[i].UpdatedAt = now
			if err := stores.Scores().Upsert(ctx, &scores[i]); err != nil {
				return fmt.Errorf("upserting score %s/%s: %w", scores[i].UserID, scores[i].ScoreCategory, err)
			}
		}
		return nil
	}

	return p
}

func reduceScores(items []AuthorSuggestions) []model.ContributionScore {
	type key struct{ user, category string }
	counts := map[key]int{}
	for _, it := range items {
		for _, s := range it.Suggestions {
			if s.Status != model.SuggestionStatusAccepted {
				continue
			}
			counts[key{s.AuthorID, s.ScoreCategory}]++
		}
	}

	scores := make([]model.ContributionScore, 0, len(counts))
	for k, n := range counts {
		scores = append(scores, model.ContributionScore{UserID: k.user, ScoreCategory: k.category, Score: n})
	}
	slices.SortFunc(scores, func(a, b model.ContributionScore) int {
		if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return cmp.Compare(a.ScoreCategory, b.ScoreCategory)
	})
	return scores
}
