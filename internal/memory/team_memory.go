package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/events"
	"github.com/elfworks/evolve/internal/metrics"
	"github.com/elfworks/evolve/internal/vector"
	"github.com/elfworks/evolve/pkg/models"
)

// TeamMemory is the episode store and pattern miner for a single team. It
// writes episodes to both a vector index (for similarity recall) and the
// relational store (for structured query). The relational write is
// authoritative; the vector write is best-effort.
type TeamMemory struct {
	teamName  string
	store     database.Store
	index     vector.Index
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// New creates a TeamMemory. index may be nil, in which case similarity
// recall always returns empty. publisher may be nil to disable events.
func New(teamName string, store database.Store, index vector.Index, publisher events.Publisher) *TeamMemory {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &TeamMemory{
		teamName:  teamName,
		store:     store,
		index:     index,
		publisher: publisher,
		metrics:   metrics.NewMetrics(),
	}
}

// TeamName returns the team this memory is scoped to.
func (tm *TeamMemory) TeamName() string {
	return tm.teamName
}

// StoreEpisode persists one completed task execution. The episode gets a
// fresh id, a UTC timestamp, derived tags and an importance score before the
// dual write. A vector index failure is logged and swallowed; a relational
// failure is returned because the episode would otherwise be unrecoverable
// via structured query.
func (tm *TeamMemory) StoreEpisode(ctx context.Context, ep *models.Episode, embedding []float32) (string, error) {
	if ep == nil {
		return "", fmt.Errorf("episode cannot be nil")
	}

	ep.ID = uuid.New().String()
	ep.TeamName = tm.teamName
	ep.CreatedAt = time.Now().UTC()
	ep.Tags = extractTags(ep)
	if ep.Success {
		ep.ImportanceScore = 0.8
	} else {
		ep.ImportanceScore = 0.5
	}

	if tm.index != nil && len(embedding) > 0 {
		payload, err := json.Marshal(ep)
		if err == nil {
			err = tm.index.Upsert(ctx, vector.Document{
				ID:        ep.ID,
				Embedding: embedding,
				Payload:   payload,
			})
		}
		if err != nil {
			log.Printf("Failed to store episode %s in vector index: %v", ep.ID, err)
			tm.metrics.VectorWriteErrors.WithLabelValues(tm.teamName).Inc()
		}
	}

	if err := tm.store.InsertEpisode(ctx, ep); err != nil {
		return "", fmt.Errorf("failed to store episode: %w", err)
	}

	tm.metrics.RecordEpisode(tm.teamName, ep.Success, ep.DurationSeconds)
	tm.publisher.PublishEpisode(tm.teamName, ep)
	return ep.ID, nil
}

// RecallSimilarEpisodes returns past episodes whose embeddings score at
// least minScore against the query, ordered descending by similarity. It
// never fails: an unavailable or erroring index yields an empty result.
func (tm *TeamMemory) RecallSimilarEpisodes(ctx context.Context, queryEmbedding []float32, limit int, minScore float64) []models.ScoredEpisode {
	if tm.index == nil {
		return nil
	}

	results, err := tm.index.Search(ctx, queryEmbedding, limit, minScore)
	if err != nil {
		log.Printf("Failed to recall episodes: %v", err)
		tm.metrics.RecallRequests.WithLabelValues(tm.teamName, "error").Inc()
		return nil
	}

	var episodes []models.ScoredEpisode
	for _, r := range results {
		var ep models.Episode
		if err := json.Unmarshal(r.Payload, &ep); err != nil {
			// Malformed payloads are skipped, not fatal.
			continue
		}
		if ep.TeamName != tm.teamName {
			// The index may be shared across teams; recall stays scoped.
			continue
		}
		episodes = append(episodes, models.ScoredEpisode{Episode: ep, SimilarityScore: r.Score})
	}
	tm.metrics.RecallRequests.WithLabelValues(tm.teamName, "ok").Inc()
	return episodes
}

// SuccessfulPatterns mines successful episodes within the window into
// per-agent action frequency summaries. taskType filters by substring match
// on the task description; superset matches are acceptable.
func (tm *TeamMemory) SuccessfulPatterns(ctx context.Context, taskType string, daysBack int) ([]models.AgentPattern, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	episodes, err := tm.store.ListEpisodes(ctx, models.EpisodeFilter{
		TeamName:      tm.teamName,
		Since:         since,
		SuccessOnly:   true,
		TitleContains: taskType,
		Tags:          []string{"success"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get patterns: %w", err)
	}
	return analyzePatterns(episodes), nil
}

// analyzePatterns accumulates per-agent frequency tables over normalized
// action strings. Top 5 actions kept per agent; agents ranked by total
// successes. Pure aggregation, no recency or confidence weighting.
func analyzePatterns(episodes []*models.Episode) []models.AgentPattern {
	type agentData struct {
		actions   map[string]int
		successes int
	}
	byAgent := make(map[string]*agentData)

	for _, ep := range episodes {
		for agent, actions := range ep.AgentContributions {
			data, ok := byAgent[agent]
			if !ok {
				data = &agentData{actions: make(map[string]int)}
				byAgent[agent] = data
			}
			data.successes++
			for _, action := range actions {
				data.actions[normalizeAction(action)]++
			}
		}
	}

	patterns := make([]models.AgentPattern, 0, len(byAgent))
	for agent, data := range byAgent {
		freqs := make([]models.ActionFrequency, 0, len(data.actions))
		for action, freq := range data.actions {
			freqs = append(freqs, models.ActionFrequency{Action: action, Frequency: freq})
		}
		sort.Slice(freqs, func(i, j int) bool {
			if freqs[i].Frequency != freqs[j].Frequency {
				return freqs[i].Frequency > freqs[j].Frequency
			}
			return freqs[i].Action < freqs[j].Action
		})
		if len(freqs) > 5 {
			freqs = freqs[:5]
		}
		patterns = append(patterns, models.AgentPattern{
			Agent:          agent,
			TotalSuccesses: data.successes,
			TopActions:     freqs,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].TotalSuccesses != patterns[j].TotalSuccesses {
			return patterns[i].TotalSuccesses > patterns[j].TotalSuccesses
		}
		return patterns[i].Agent < patterns[j].Agent
	})
	return patterns
}

func normalizeAction(action string) string {
	return strings.TrimSpace(strings.ToLower(action))
}

// PerformanceMetrics aggregates the team's episodes over the window into
// totals, success rate, average duration and a week-over-week improvement
// trend. Returns nil when no episodes exist in the window.
func (tm *TeamMemory) PerformanceMetrics(ctx context.Context, daysBack int) (*models.PerformanceMetrics, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	episodes, err := tm.store.ListEpisodes(ctx, models.EpisodeFilter{
		TeamName: tm.teamName,
		Since:    since,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	total := len(episodes)
	successful := 0
	var durationSum float64
	durationCount := 0
	weekly := make(map[int]models.WeekStats)

	for _, ep := range episodes {
		if ep.Success {
			successful++
		}
		if ep.DurationSeconds > 0 {
			durationSum += ep.DurationSeconds
			durationCount++
		}
		year, week := ep.CreatedAt.ISOWeek()
		key := year*100 + week
		stats := weekly[key]
		stats.Total++
		if ep.Success {
			stats.Successful++
		}
		weekly[key] = stats
	}

	avgDuration := 0.0
	if durationCount > 0 {
		avgDuration = durationSum / float64(durationCount)
	}

	// Trend is latest-week success rate minus earliest-week success rate.
	trend := 0.0
	if len(weekly) > 1 {
		weeks := make([]int, 0, len(weekly))
		for w := range weekly {
			weeks = append(weeks, w)
		}
		sort.Ints(weeks)
		first, last := weekly[weeks[0]], weekly[weeks[len(weeks)-1]]
		trend = float64(last.Successful)/float64(last.Total) - float64(first.Successful)/float64(first.Total)
	}

	return &models.PerformanceMetrics{
		TotalEpisodes:          total,
		SuccessRate:            float64(successful) / float64(total),
		AverageDurationSeconds: avgDuration,
		ImprovementTrend:       trend,
		WeeklyPerformance:      weekly,
	}, nil
}

// StoreLearning persists one learning. Pattern type is classified from the
// insight text and the category defaults to the context task type.
func (tm *TeamMemory) StoreLearning(ctx context.Context, l *models.Learning) (string, error) {
	if l == nil {
		return "", fmt.Errorf("learning cannot be nil")
	}

	l.ID = uuid.New().String()
	l.TeamName = tm.teamName
	l.CreatedAt = time.Now().UTC()
	l.PatternType = models.ClassifyInsight(l.Insight)
	if l.Category == "" {
		if l.Context.TaskType != "" {
			l.Category = l.Context.TaskType
		} else {
			l.Category = "general"
		}
	}

	if err := tm.store.InsertLearning(ctx, l); err != nil {
		return "", fmt.Errorf("failed to store learning: %w", err)
	}

	tm.metrics.LearningsStored.WithLabelValues(tm.teamName, string(l.PatternType)).Inc()
	tm.publisher.PublishLearning(tm.teamName, l)
	return l.ID, nil
}

// RelevantLearnings returns team learnings with confidence >= 0.7 whose
// context keywords overlap the query context. Matching is plain keyword
// overlap, not semantic.
func (tm *TeamMemory) RelevantLearnings(ctx context.Context, query models.LearningContext) ([]*models.Learning, error) {
	learnings, err := tm.store.ListLearnings(ctx, models.LearningFilter{
		TeamName:      tm.teamName,
		MinConfidence: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get learnings: %w", err)
	}

	queryWords := contextKeywords(query)
	var relevant []*models.Learning
	for _, l := range learnings {
		for word := range contextKeywords(l.Context) {
			if _, ok := queryWords[word]; ok {
				relevant = append(relevant, l)
				break
			}
		}
	}
	return relevant, nil
}

func contextKeywords(c models.LearningContext) map[string]struct{} {
	words := make(map[string]struct{})
	add := func(s string) {
		for _, w := range strings.Fields(strings.ToLower(s)) {
			words[w] = struct{}{}
		}
	}
	add(c.TaskType)
	add(c.Role)
	add(c.Action)
	if c.Trait != nil {
		add(c.Trait.Name)
	}
	if c.Tool != nil {
		add(c.Tool.Name)
		for _, t := range c.Tool.TaskTypes {
			add(t)
		}
	}
	for k, v := range c.Extra {
		add(k)
		add(v)
	}
	return words
}

// ConsolidateMemories compresses episodes older than the cutoff into
// consolidated learnings, one per coarse task type with a success rate above
// 0.7. Returns the number of learnings written. Pruning the consolidated
// episodes is a separate, explicit call.
func (tm *TeamMemory) ConsolidateMemories(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	episodes, err := tm.store.ListEpisodes(ctx, models.EpisodeFilter{
		TeamName: tm.teamName,
		Before:   cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to consolidate memories: %w", err)
	}
	if len(episodes) == 0 {
		return 0, nil
	}

	groups := make(map[string][]*models.Episode)
	for _, ep := range episodes {
		taskType := extractTaskType(ep.TaskDescription)
		groups[taskType] = append(groups[taskType], ep)
	}

	written := 0
	for taskType, group := range groups {
		successful := 0
		for _, ep := range group {
			if ep.Success {
				successful++
			}
		}
		successRate := float64(successful) / float64(len(group))
		if successRate <= 0.7 {
			continue
		}

		evidence := make([]string, 0, 5)
		for _, ep := range group {
			evidence = append(evidence, ep.ID)
			if len(evidence) == 5 {
				break
			}
		}
		learning := &models.Learning{
			Insight:     fmt.Sprintf("Effective approach for %s tasks", taskType),
			Context:     models.LearningContext{TaskType: taskType},
			Evidence:    evidence,
			Confidence:  successRate,
			SuccessRate: successRate,
		}
		if _, err := tm.StoreLearning(ctx, learning); err != nil {
			log.Printf("Failed to store consolidated learning for %s: %v", taskType, err)
			continue
		}
		written++
	}

	log.Printf("Consolidated %d old memories for team %s into %d learnings", len(episodes), tm.teamName, written)
	return written, nil
}

// PruneEpisodes deletes episodes older than the retention window, returning
// the number removed. Intended to run after ConsolidateMemories.
func (tm *TeamMemory) PruneEpisodes(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	n, err := tm.store.DeleteEpisodesBefore(ctx, tm.teamName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune episodes: %w", err)
	}
	return n, nil
}

// EpisodesSince returns the team's episodes within the window, newest first.
func (tm *TeamMemory) EpisodesSince(ctx context.Context, daysBack int, successOnly bool) ([]*models.Episode, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	return tm.store.ListEpisodes(ctx, models.EpisodeFilter{
		TeamName:    tm.teamName,
		Since:       since,
		SuccessOnly: successOnly,
	})
}

// extractTags derives the denormalized tag set for an episode: outcome,
// coarse task-type keywords and one tag per participating agent.
func extractTags(ep *models.Episode) []string {
	var tags []string
	if ep.Success {
		tags = append(tags, "success")
	} else {
		tags = append(tags, "failure")
	}

	desc := strings.ToLower(ep.TaskDescription)
	if strings.Contains(desc, "create") {
		tags = append(tags, "creation")
	}
	if strings.Contains(desc, "fix") || strings.Contains(desc, "debug") {
		tags = append(tags, "debugging")
	}
	if strings.Contains(desc, "analyze") {
		tags = append(tags, "analysis")
	}
	if strings.Contains(desc, "deploy") {
		tags = append(tags, "deployment")
	}

	agents := make([]string, 0, len(ep.AgentContributions))
	for agent := range ep.AgentContributions {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		tags = append(tags, "agent:"+agent)
	}
	return tags
}

// extractTaskType buckets a task description by word membership. Coarser
// than the learning system's classifier; used only for consolidation
// grouping.
func extractTaskType(description string) string {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(description)) {
		words[w] = struct{}{}
	}
	has := func(w string) bool {
		_, ok := words[w]
		return ok
	}
	switch {
	case has("create"):
		return "creation"
	case has("analyze"):
		return "analysis"
	case has("fix"), has("debug"):
		return "debugging"
	case has("design"):
		return "design"
	default:
		return "general"
	}
}
