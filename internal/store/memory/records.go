package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store"
)

type userStore struct{ v *view }

func (s *userStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer s.v.lock()()
	u, ok := s.v.state().users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *userStore) GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	defer s.v.lock()()
	st := s.v.state()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := st.users[id]; ok {
			out[id] = &u
		}
	}
	return out, nil
}

func (s *userStore) Upsert(ctx context.Context, u *model.User) error {
	defer s.v.lock()()
	c := *u
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.v.state().users[u.ID] = c
	return nil
}

func (s *userStore) GetEntityPreference(ctx context.Context, userID, entityType, entityID string) (*model.EntityPreference, error) {
	defer s.v.lock()()
	p, ok := s.v.state().prefs[prefKey{userID, entityType, entityID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *userStore) SetEntityPreference(ctx context.Context, p *model.EntityPreference) error {
	defer s.v.lock()()
	s.v.state().prefs[prefKey{p.UserID, p.EntityType, p.EntityID}] = *p
	return nil
}

type entityStore struct{ v *view }

func (s *entityStore) GetByID(ctx context.Context, entityType, id string) (*model.Entity, error) {
	defer s.v.lock()()
	e, ok := s.v.state().entities[store.EntityKey{Type: entityType, ID: id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	e = copyEntity(e)
	return &e, nil
}

func (s *entityStore) GetByIDs(ctx context.Context, entityType string, ids []string) (map[string]*model.Entity, error) {
	defer s.v.lock()()
	st := s.v.state()
	out := make(map[string]*model.Entity, len(ids))
	for _, id := range ids {
		if e, ok := st.entities[store.EntityKey{Type: entityType, ID: id}]; ok {
			e = copyEntity(e)
			out[id] = &e
		}
	}
	return out, nil
}

func (s *entityStore) Create(ctx context.Context, e *model.Entity) error {
	defer s.v.lock()()
	st := s.v.state()
	key := store.EntityKey{Type: e.Type, ID: e.ID}
	if _, ok := st.entities[key]; ok {
		return store.ErrConflict
	}
	st.entities[key] = copyEntity(*e)
	return nil
}

func (s *entityStore) Update(ctx context.Context, e *model.Entity) error {
	defer s.v.lock()()
	st := s.v.state()
	key := store.EntityKey{Type: e.Type, ID: e.ID}
	if _, ok := st.entities[key]; !ok {
		return store.ErrNotFound
	}
	st.entities[key] = copyEntity(*e)
	return nil
}

func (s *entityStore) CreateCommit(ctx context.Context, c *model.EntityCommit) error {
	defer s.v.lock()()
	st := s.v.state()
	c.ID = int64(len(st.commits) + 1)
	cc := *c
	cc.Change = copyRaw(c.Change)
	st.commits = append(st.commits, cc)
	return nil
}

func (s *entityStore) ListCommits(ctx context.Context, entityType, id string) ([]model.EntityCommit, error) {
	defer s.v.lock()()
	var out []model.EntityCommit
	for _, c := range s.v.state().commits {
		if c.EntityType == entityType && c.EntityID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

type unsentEmailStore struct{ v *view }

func (s *unsentEmailStore) Get(ctx context.Context, userID string) (*model.UnsentFeedbackEmail, error) {
	defer s.v.lock()()
	e, ok := s.v.state().unsent[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.References = slices.Clone(e.References)
	return &e, nil
}

func (s *unsentEmailStore) GetForUpdate(ctx context.Context, userID string) (*model.UnsentFeedbackEmail, error) {
	return s.Get(ctx, userID)
}

func (s *unsentEmailStore) AppendReference(ctx context.Context, userID string, ref model.MessageReference, at time.Time) (bool, error) {
	defer s.v.lock()()
	st := s.v.state()
	e, ok := st.unsent[userID]
	if !ok {
		e = model.UnsentFeedbackEmail{UserID: userID, CreatedAt: at}
	}
	e.References = append(slices.Clone(e.References), ref)
	e.UpdatedAt = at
	st.unsent[userID] = e
	return !ok, nil
}

func (s *unsentEmailStore) Upsert(ctx context.Context, e *model.UnsentFeedbackEmail) error {
	defer s.v.lock()()
	c := *e
	c.References = slices.Clone(e.References)
	s.v.state().unsent[e.UserID] = c
	return nil
}

func (s *unsentEmailStore) Delete(ctx context.Context, userID string) error {
	defer s.v.lock()()
	delete(s.v.state().unsent, userID)
	return nil
}

func (s *unsentEmailStore) ListUserIDsAfter(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	defer s.v.lock()()
	var out []string
	for _, id := range slices.Sorted(maps.Keys(s.v.state().unsent)) {
		if id <= afterUserID {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type analyticsStore struct{ v *view }

func (s *analyticsStore) GetMulti(ctx context.Context, entityType string, entityIDs []string) ([]model.ThreadAnalytics, error) {
	defer s.v.lock()()
	st := s.v.state()
	var out []model.ThreadAnalytics
	for _, id := range entityIDs {
		if a, ok := st.analytics[store.EntityKey{Type: entityType, ID: id}]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *analyticsStore) Upsert(ctx context.Context, a *model.ThreadAnalytics) error {
	defer s.v.lock()()
	s.v.state().analytics[store.EntityKey{Type: a.EntityType, ID: a.EntityID}] = *a
	return nil
}

type suggestionStore struct{ v *view }

func (s *suggestionStore) Create(ctx context.Context, sg *model.Suggestion) error {
	defer s.v.lock()()
	st := s.v.state()
	if _, ok := st.suggestions[sg.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range st.suggestions {
		if existing.ThreadID == sg.ThreadID {
			return store.ErrConflict
		}
	}
	st.suggestions[sg.ID] = *sg
	return nil
}

func (s *suggestionStore) GetByID(ctx context.Context, id string) (*model.Suggestion, error) {
	defer s.v.lock()()
	sg, ok := s.v.state().suggestions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sg, nil
}

func (s *suggestionStore) GetByThreadID(ctx context.Context, threadID string) (*model.Suggestion, error) {
	defer s.v.lock()()
	for _, sg := range s.v.state().suggestions {
		if sg.ThreadID == threadID {
			return &sg, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *suggestionStore) Update(ctx context.Context, sg *model.Suggestion) error {
	defer s.v.lock()()
	st := s.v.state()
	if _, ok := st.suggestions[sg.ID]; !ok {
		return store.ErrNotFound
	}
	st.suggestions[sg.ID] = *sg
	return nil
}

func (s *suggestionStore) List(ctx context.Context, f store.SuggestionFilter) ([]model.Suggestion, error) {
	defer s.v.lock()()
	match := func(want *string, got string) bool { return want == nil || *want == got }
	matchPtr := func(want *string, got *string) bool { return want == nil || (got != nil && *want == *got) }

	var out []model.Suggestion
	for _, sg := range s.sorted() {
		if !match(f.AuthorID, sg.AuthorID) ||
			!matchPtr(f.FinalReviewerID, sg.FinalReviewerID) ||
			!matchPtr(f.AssignedReviewerID, sg.AssignedReviewerID) ||
			!match(f.TargetID, sg.TargetID) ||
			(f.Status != nil && *f.Status != sg.Status) ||
			(f.Type != nil && *f.Type != sg.SuggestionType) {
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

func (s *suggestionStore) ListAuthorsAfter(ctx context.Context, afterAuthorID string, limit int) ([]string, error) {
	defer s.v.lock()()
	authors := map[string]bool{}
	for _, sg := range s.v.state().suggestions {
		authors[sg.AuthorID] = true
	}
	var out []string
	for _, a := range slices.Sorted(maps.Keys(authors)) {
		if a <= afterAuthorID {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *suggestionStore) ListByAuthors(ctx context.Context, authorIDs []string) ([]model.Suggestion, error) {
	defer s.v.lock()()
	var out []model.Suggestion
	for _, sg := range s.sorted() {
		if slices.Contains(authorIDs, sg.AuthorID) {
			out = append(out, sg)
		}
	}
	return out, nil
}

func (s *suggestionStore) sorted() []model.Suggestion {
	list := slices.Collect(maps.Values(s.v.state().suggestions))
	slices.SortFunc(list, func(a, b model.Suggestion) int { return cmp.Compare(a.ID, b.ID) })
	return list
}

type scoreStore struct{ v *view }

func (s *scoreStore) Upsert(ctx context.Context, sc *model.ContributionScore) error {
	defer s.v.lock()()
	s.v.state().scores[scoreKey{sc.UserID, sc.ScoreCategory}] = *sc
	return nil
}

func (s *scoreStore) ListByUser(ctx context.Context, userID string) ([]model.ContributionScore, error) {
	defer s.v.lock()()
	var out []model.ContributionScore
	for k, sc := range s.v.state().scores {
		if k.userID == userID {
			out = append(out, sc)
		}
	}
	slices.SortFunc(out, func(a, b model.ContributionScore) int { return cmp.Compare(a.ScoreCategory, b.ScoreCategory) })
	return out, nil
}
