package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elfworks/evolve/pkg/models"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-process Store. It backs single-node deployments that run
// without Postgres and doubles as the test substitute for Database.
type MemStore struct {
	mu         sync.RWMutex
	episodes   []*models.Episode
	learnings  []*models.Learning
	evolutions []*models.AgentEvolution
	abTests    map[string]*models.ABTest
	abResults  map[string][]*models.ABTestObservation
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		abTests:   make(map[string]*models.ABTest),
		abResults: make(map[string][]*models.ABTestObservation),
	}
}

// Close is a no-op; it exists so MemStore can stand in where Database does.
func (m *MemStore) Close() error { return nil }

func (m *MemStore) InsertEpisode(_ context.Context, ep *models.Episode) error {
	if ep == nil {
		return fmt.Errorf("episode cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	cp := *ep
	m.episodes = append(m.episodes, &cp)
	return nil
}

func (m *MemStore) ListEpisodes(_ context.Context, filter models.EpisodeFilter) ([]*models.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Episode
	for _, ep := range m.episodes {
		if !episodeMatches(ep, filter) {
			continue
		}
		cp := *ep
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func episodeMatches(ep *models.Episode, f models.EpisodeFilter) bool {
	if ep.TeamName != f.TeamName {
		return false
	}
	if !f.Since.IsZero() && ep.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Before.IsZero() && !ep.CreatedAt.Before(f.Before) {
		return false
	}
	if f.SuccessOnly && !ep.Success {
		return false
	}
	if f.TitleContains != "" &&
		!strings.Contains(strings.ToLower(ep.TaskDescription), strings.ToLower(f.TitleContains)) {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range ep.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MemStore) DeleteEpisodesBefore(_ context.Context, teamName string, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.episodes[:0]
	deleted := 0
	for _, ep := range m.episodes {
		if ep.TeamName == teamName && ep.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ep)
	}
	m.episodes = kept
	return deleted, nil
}

func (m *MemStore) InsertLearning(_ context.Context, l *models.Learning) error {
	if l == nil {
		return fmt.Errorf("learning cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.PatternType == "" {
		l.PatternType = models.ClassifyInsight(l.Insight)
	}
	if l.Category == "" {
		l.Category = "general"
	}
	cp := *l
	m.learnings = append(m.learnings, &cp)
	return nil
}

func (m *MemStore) ListLearnings(_ context.Context, filter models.LearningFilter) ([]*models.Learning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Learning
	for _, l := range m.learnings {
		if !learningMatches(l, filter) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	if filter.OrderBySuccess {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].SuccessRate > out[j].SuccessRate
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func learningMatches(l *models.Learning, f models.LearningFilter) bool {
	if l.TeamName != f.TeamName {
		return false
	}
	if f.Role != "" && l.Context.Role != f.Role {
		return false
	}
	if f.TaskType != "" && l.Context.TaskType != f.TaskType {
		return false
	}
	if f.TraitImpact && l.Context.Trait == nil {
		return false
	}
	if f.ToolUsage && l.Context.Tool == nil {
		return false
	}
	if f.MinConfidence > 0 && l.Confidence < f.MinConfidence {
		return false
	}
	if f.MinSuccessRate > 0 && l.SuccessRate < f.MinSuccessRate {
		return false
	}
	return true
}

func (m *MemStore) InsertEvolution(_ context.Context, ev *models.AgentEvolution) error {
	if ev == nil {
		return fmt.Errorf("evolution cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	cp := *ev
	m.evolutions = append(m.evolutions, &cp)
	return nil
}

func (m *MemStore) GetEvolution(_ context.Context, id string) (*models.AgentEvolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ev := range m.evolutions {
		if ev.ID == id {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("evolution not found: %s", id)
}

func (m *MemStore) LatestEvolution(_ context.Context, teamID, agentRole string, typ models.EvolutionType) (*models.AgentEvolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.AgentEvolution
	for _, ev := range m.evolutions {
		if ev.TeamID != teamID || ev.AgentRole != agentRole || ev.Type != typ {
			continue
		}
		if latest == nil || ev.CreatedAt.After(latest.CreatedAt) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemStore) ListEvolutions(_ context.Context, teamID, agentRole string, limit int) ([]*models.AgentEvolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AgentEvolution
	for _, ev := range m.evolutions {
		if ev.TeamID != teamID {
			continue
		}
		if agentRole != "" && ev.AgentRole != agentRole {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) SetEvolutionDelta(_ context.Context, id string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.evolutions {
		if ev.ID == id {
			ev.PerformanceDelta = delta
			return nil
		}
	}
	return fmt.Errorf("evolution not found: %s", id)
}

func (m *MemStore) MarkEvolutionApplied(_ context.Context, id string, delta float64, appliedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.evolutions {
		if ev.ID == id {
			ev.PerformanceDelta = delta
			at := appliedAt
			ev.AppliedAt = &at
			return nil
		}
	}
	return fmt.Errorf("evolution not found: %s", id)
}

func (m *MemStore) InsertABTest(_ context.Context, t *models.ABTest) error {
	if t == nil {
		return fmt.Errorf("test cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	cp := *t
	m.abTests[t.ID] = &cp
	return nil
}

func (m *MemStore) GetABTest(_ context.Context, id string) (*models.ABTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.abTests[id]
	if !ok {
		return nil, fmt.Errorf("ab test not found: %s", id)
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) CompleteABTest(_ context.Context, id, recommendation string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.abTests[id]
	if !ok {
		return fmt.Errorf("ab test not found: %s", id)
	}
	t.Status = models.ABTestCompleted
	t.FinalRecommendation = recommendation
	at := completedAt
	t.CompletedAt = &at
	return nil
}

func (m *MemStore) InsertABTestResult(_ context.Context, r *models.ABTestObservation) error {
	if r == nil {
		return fmt.Errorf("result cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	m.abResults[r.TestID] = append(m.abResults[r.TestID], &cp)
	return nil
}

func (m *MemStore) ListABTestResults(_ context.Context, testID string) ([]*models.ABTestObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := m.abResults[testID]
	out := make([]*models.ABTestObservation, 0, len(results))
	for _, r := range results {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) ListActiveABTests(_ context.Context, teamID string) ([]*models.ABTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ABTest
	for _, t := range m.abTests {
		if t.TeamID != teamID || t.Status != models.ABTestActive {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}
