package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
)

// Store is an in-memory grants.Store and grants.Catalog. Foreign keys are
// enforced and ids keep counting across Reset, matching the Postgres store.
type Store struct {
	mu            sync.RWMutex
	solicitations map[int64]grants.Solicitation
	topics        map[int64]grants.Topic
	subtopics     map[int64]grants.Subtopic
	nextSol       int64
	nextTopic     int64
	nextSub       int64
}

var (
	_ grants.Store   = (*Store)(nil)
	_ grants.Catalog = (*Store)(nil)
)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		solicitations: make(map[int64]grants.Solicitation),
		topics:        make(map[int64]grants.Topic),
		subtopics:     make(map[int64]grants.Subtopic),
	}
}

// Reset removes every row.
func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solicitations = make(map[int64]grants.Solicitation)
	s.topics = make(map[int64]grants.Topic)
	s.subtopics = make(map[int64]grants.Subtopic)
	return nil
}

// InsertSolicitation stores the row under a new id.
func (s *Store) InsertSolicitation(_ context.Context, sol grants.Solicitation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSol++
	sol.ID = s.nextSol
	if sol.ApplicationDueDates == nil {
		sol.ApplicationDueDates = []string{}
	}
	s.solicitations[sol.ID] = sol
	return sol.ID, nil
}

// InsertTopic stores the row under a new id once its parent exists.
func (s *Store) InsertTopic(_ context.Context, t grants.Topic) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.solicitations[t.SolicitationFK]; !ok {
		return 0, fmt.Errorf("insert topic: solicitation %d does not exist", t.SolicitationFK)
	}
	s.nextTopic++
	t.ID = s.nextTopic
	s.topics[t.ID] = t
	return t.ID, nil
}

// InsertSubtopic stores the row under a new id once its parent exists.
func (s *Store) InsertSubtopic(_ context.Context, st grants.Subtopic) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[st.TopicFK]; !ok {
		return 0, fmt.Errorf("insert subtopic: topic %d does not exist", st.TopicFK)
	}
	s.nextSub++
	st.ID = s.nextSub
	s.subtopics[st.ID] = st
	return st.ID, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// ListSolicitations returns one page ordered by id.
func (s *Store) ListSolicitations(ctx context.Context, page grants.Page) ([]grants.Solicitation, error) {
	return s.SearchSolicitations(ctx, grants.SolicitationFilter{Page: page})
}

// GetSolicitation returns grants.ErrNotFound when id does not exist.
func (s *Store) GetSolicitation(_ context.Context, id int64) (grants.Solicitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sol, ok := s.solicitations[id]
	if !ok {
		return grants.Solicitation{}, fmt.Errorf("solicitation %d: %w", id, grants.ErrNotFound)
	}
	return sol, nil
}

// SearchSolicitations filters by id, title keywords, and agency.
func (s *Store) SearchSolicitations(_ context.Context, f grants.SolicitationFilter) ([]grants.Solicitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []grants.Solicitation
	for _, sol := range s.solicitations {
		if f.ID > 0 && sol.ID != f.ID {
			continue
		}
		if f.Keywords != "" && !containsFold(sol.Title, f.Keywords) {
			continue
		}
		if f.Agency != "" && !equal(sol.Agency, f.Agency) {
			continue
		}
		matched = append(matched, sol)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return window(matched, f.Page), nil
}

// SearchTopics filters by id, parent, title keywords, and parent agency.
func (s *Store) SearchTopics(_ context.Context, f grants.TopicFilter) ([]grants.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []grants.Topic
	for _, t := range s.topics {
		if f.ID > 0 && t.ID != f.ID {
			continue
		}
		if f.SolicitationFK > 0 && t.SolicitationFK != f.SolicitationFK {
			continue
		}
		if f.Keywords != "" && !containsFold(t.Title, f.Keywords) {
			continue
		}
		if f.Agency != "" && !equal(s.solicitations[t.SolicitationFK].Agency, f.Agency) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return window(matched, f.Page), nil
}

// Subtopics returns the subtopics of a topic ordered by id.
func (s *Store) Subtopics(topicID int64) []grants.Subtopic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []grants.Subtopic
	for _, st := range s.subtopics {
		if st.TopicFK == topicID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the row count per table.
func (s *Store) Len() (solicitations, topics, subtopics int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.solicitations), len(s.topics), len(s.subtopics)
}

func window[T any](rows []T, page grants.Page) []T {
	page = page.Normalize()
	out := []T{}
	if page.Offset >= len(rows) {
		return out
	}
	end := page.Offset + page.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return append(out, rows[page.Offset:end]...)
}

func containsFold(field *string, keywords string) bool {
	return field != nil && strings.Contains(strings.ToLower(*field), strings.ToLower(keywords))
}

func equal(field *string, want string) bool {
	return field != nil && *field == want
}
