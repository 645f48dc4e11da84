package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store"
)

type threadStore struct{ v *view }

func (s *threadStore) Create(ctx context.Context, t *model.Thread) error {
	defer s.v.lock()()
	st := s.v.state()
	if _, ok := st.threads[t.ID]; ok {
		return store.ErrConflict
	}
	st.threads[t.ID] = *t
	return nil
}

func (s *threadStore) GetByID(ctx context.Context, id string) (*model.Thread, error) {
	defer s.v.lock()()
	t, ok := s.v.state().threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

// GetForUpdate is GetByID: transactions are already serialised.
func (s *threadStore) GetForUpdate(ctx context.Context, id string) (*model.Thread, error) {
	return s.GetByID(ctx, id)
}

func (s *threadStore) GetByIDs(ctx context.Context, ids []string) ([]model.Thread, error) {
	defer s.v.lock()()
	st := s.v.state()
	var out []model.Thread
	for _, id := range ids {
		if t, ok := st.threads[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *threadStore) ListByEntity(ctx context.Context, entityType, entityID string, hasSuggestion *bool) ([]model.Thread, error) {
	defer s.v.lock()()
	var out []model.Thread
	for _, t := range s.v.state().threads {
		if t.EntityType != entityType || t.EntityID != entityID {
			continue
		}
		if hasSuggestion != nil && t.HasSuggestion != *hasSuggestion {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b model.Thread) int {
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *threadStore) ListByEntities(ctx context.Context, keys []store.EntityKey) ([]model.Thread, error) {
	defer s.v.lock()()
	want := make(map[store.EntityKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []model.Thread
	for _, t := range s.v.state().threads {
		if want[store.EntityKey{Type: t.EntityType, ID: t.EntityID}] {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b model.Thread) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *threadStore) Update(ctx context.Context, t *model.Thread) error {
	defer s.v.lock()()
	st := s.v.state()
	if _, ok := st.threads[t.ID]; !ok {
		return store.ErrNotFound
	}
	st.threads[t.ID] = *t
	return nil
}

func (s *threadStore) UpdateSubject(ctx context.Context, id, subject string) error {
	defer s.v.lock()()
	st := s.v.state()
	t, ok := st.threads[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Subject = subject
	st.threads[id] = t
	return nil
}

func (s *threadStore) UpdateMessageCount(ctx context.Context, id string, count int) error {
	defer s.v.lock()()
	st := s.v.state()
	t, ok := st.threads[id]
	if !ok {
		return store.ErrNotFound
	}
	t.MessageCount = &count
	st.threads[id] = t
	return nil
}

func (s *threadStore) ListAfter(ctx context.Context, afterID string, limit int) ([]model.Thread, error) {
	return s.listAfter(afterID, limit, func(model.Thread) bool { return true }), nil
}

func (s *threadStore) ListBySubjectAfter(ctx context.Context, subject, afterID string, limit int) ([]model.Thread, error) {
	return s.listAfter(afterID, limit, func(t model.Thread) bool { return t.Subject == subject }), nil
}

func (s *threadStore) listAfter(afterID string, limit int, keep func(model.Thread) bool) []model.Thread {
	defer s.v.lock()()
	st := s.v.state()
	var out []model.Thread
	for _, id := range slices.Sorted(maps.Keys(st.threads)) {
		if id <= afterID || !keep(st.threads[id]) {
			continue
		}
		out = append(out, st.threads[id])
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *threadStore) ListEntityKeysAfter(ctx context.Context, after store.EntityKey, limit int) ([]store.EntityKey, error) {
	defer s.v.lock()()
	seen := map[store.EntityKey]bool{}
	for _, t := range s.v.state().threads {
		seen[store.EntityKey{Type: t.EntityType, ID: t.EntityID}] = true
	}
	keys := slices.SortedFunc(maps.Keys(seen), compareKeys)
	var out []store.EntityKey
	for _, k := range keys {
		if compareKeys(k, after) <= 0 {
			continue
		}
		out = append(out, k)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func compareKeys(a, b store.EntityKey) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

type messageStore struct{ v *view }

func (s *messageStore) Create(ctx context.Context, m *model.Message) error {
	defer s.v.lock()()
	st := s.v.state()
	msgs := st.messages[m.ThreadID]
	if msgs == nil {
		msgs = map[int]model.Message{}
		st.messages[m.ThreadID] = msgs
	}
	if _, ok := msgs[m.MessageID]; ok {
		return store.ErrConflict
	}
	msgs[m.MessageID] = *m
	return nil
}

func (s *messageStore) Get(ctx context.Context, threadID string, messageID int) (*model.Message, error) {
	defer s.v.lock()()
	m, ok := s.v.state().messages[threadID][messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *messageStore) ListByThread(ctx context.Context, threadID string) ([]model.Message, error) {
	defer s.v.lock()()
	msgs := s.v.state().messages[threadID]
	out := make([]model.Message, 0, len(msgs))
	for _, id := range slices.Sorted(maps.Keys(msgs)) {
		out = append(out, msgs[id])
	}
	return out, nil
}

func (s *messageStore) GetMulti(ctx context.Context, refs []model.MessageReference) (map[string]model.Message, error) {
	defer s.v.lock()()
	st := s.v.state()
	out := make(map[string]model.Message, len(refs))
	for _, ref := range refs {
		if m, ok := st.messages[ref.ThreadID][ref.MessageID]; ok {
			out[m.FullID()] = m
		}
	}
	return out, nil
}

func (s *messageStore) Stats(ctx context.Context, threadIDs []string) (map[string]store.MessageStat, error) {
	defer s.v.lock()()
	st := s.v.state()
	out := make(map[string]store.MessageStat, len(threadIDs))
	for _, id := range threadIDs {
		stat := store.MessageStat{ThreadID: id, MaxMessageID: -1}
		for mid := range st.messages[id] {
			stat.Count++
			stat.MaxMessageID = max(stat.MaxMessageID, mid)
		}
		out[id] = stat
	}
	return out, nil
}

func (s *messageStore) Delete(ctx context.Context, threadID string, messageID int) error {
	defer s.v.lock()()
	msgs := s.v.state().messages[threadID]
	if _, ok := msgs[messageID]; !ok {
		return store.ErrNotFound
	}
	delete(msgs, messageID)
	return nil
}

type threadUserStore struct{ v *view }

func (s *threadUserStore) Get(ctx context.Context, userID, threadID string) (*model.ThreadUser, error) {
	defer s.v.lock()()
	tu, ok := s.v.state().threadUsers[userThreadKey{userID, threadID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	tu.MessageIDsRead = slices.Clone(tu.MessageIDsRead)
	return &tu, nil
}

func (s *threadUserStore) GetMulti(ctx context.Context, userID string, threadIDs []string) (map[string]*model.ThreadUser, error) {
	defer s.v.lock()()
	st := s.v.state()
	out := make(map[string]*model.ThreadUser)
	for _, id := range threadIDs {
		if tu, ok := st.threadUsers[userThreadKey{userID, id}]; ok {
			tu.MessageIDsRead = slices.Clone(tu.MessageIDsRead)
			out[id] = &tu
		}
	}
	return out, nil
}

func (s *threadUserStore) Upsert(ctx context.Context, tu *model.ThreadUser) error {
	defer s.v.lock()()
	c := *tu
	c.MessageIDsRead = slices.Clone(tu.MessageIDsRead)
	s.v.state().threadUsers[userThreadKey{tu.UserID, tu.ThreadID}] = c
	return nil
}

func (s *threadUserStore) MarkRead(ctx context.Context, userID, threadID string, messageIDs []int) error {
	defer s.v.lock()()
	key := userThreadKey{userID, threadID}
	st := s.v.state()
	tu, ok := st.threadUsers[key]
	if !ok {
		tu = model.ThreadUser{UserID: userID, ThreadID: threadID}
	}
	tu.MessageIDsRead = slices.Clone(tu.MessageIDsRead)
	tu.MarkRead(messageIDs...)
	st.threadUsers[key] = tu
	return nil
}

type subscriptionStore struct{ v *view }

func (s *subscriptionStore) Subscribe(ctx context.Context, userID, threadID string) error {
	defer s.v.lock()()
	st := s.v.state()
	if !slices.Contains(st.subscriptions[threadID], userID) {
		st.subscriptions[threadID] = append(slices.Clone(st.subscriptions[threadID]), userID)
	}
	return nil
}

func (s *subscriptionStore) ListSubscribers(ctx context.Context, threadID string) ([]string, error) {
	defer s.v.lock()()
	return slices.Clone(s.v.state().subscriptions[threadID]), nil
}
