package abtest

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/metrics"
	"github.com/elfworks/evolve/pkg/models"
)

// minSampleSize is the per-group floor below which a test reports
// "insufficient data" regardless of the observed gap.
const minSampleSize = 30

// Harness runs base-vs-evolved comparisons: it assigns traffic between
// control and treatment, accumulates per-group results and derives a
// statistical verdict.
type Harness struct {
	store   database.Store
	metrics *metrics.Metrics
	// rng drives group assignment. Injected so tests can seed it; assignment
	// is the only place randomness enters this package.
	rng *rand.Rand
	now func() time.Time
}

// NewHarness creates a harness with a time-seeded random source.
func NewHarness(store database.Store) *Harness {
	return &Harness{
		store:   store,
		metrics: metrics.NewMetrics(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewHarnessWithRand creates a harness with an explicit random source and
// clock, for deterministic tests.
func NewHarnessWithRand(store database.Store, rng *rand.Rand, now func() time.Time) *Harness {
	return &Harness{
		store:   store,
		metrics: metrics.NewMetrics(),
		rng:     rng,
		now:     now,
	}
}

// CreateTest starts an A/B test for a pending evolution. Control gets the
// original version, treatment the evolved one.
func (h *Harness) CreateTest(ctx context.Context, teamID, agentRole, evolutionID string, durationHours int, trafficSplit float64) (*models.ABTest, error) {
	if trafficSplit <= 0 || trafficSplit >= 1 {
		return nil, fmt.Errorf("traffic split must be in (0, 1), got %v", trafficSplit)
	}
	if durationHours <= 0 {
		durationHours = 48
	}

	ev, err := h.store.GetEvolution(ctx, evolutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create ab test: %w", err)
	}

	now := h.now()
	test := &models.ABTest{
		TeamID:          teamID,
		AgentRole:       agentRole,
		EvolutionID:     evolutionID,
		Status:          models.ABTestActive,
		TrafficSplit:    trafficSplit,
		StartTime:       now,
		EndTime:         now.Add(time.Duration(durationHours) * time.Hour),
		ControlConfig:   ev.OriginalVersion,
		TreatmentConfig: ev.EvolvedVersion,
	}
	if err := h.store.InsertABTest(ctx, test); err != nil {
		return nil, fmt.Errorf("failed to create ab test: %w", err)
	}

	log.Printf("Created A/B test %s for %s evolution", test.ID, agentRole)
	return test, nil
}

// ShouldUseTreatment makes an i.i.d. Bernoulli draw with probability equal
// to the test's traffic split and returns the chosen group's configuration.
// A test past its end time is finalized and reports control.
func (h *Harness) ShouldUseTreatment(ctx context.Context, testID string) (bool, *models.Assignment, error) {
	test, err := h.store.GetABTest(ctx, testID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get ab test: %w", err)
	}
	if test.Status != models.ABTestActive {
		return false, nil, nil
	}
	if test.EndTime.Before(h.now()) {
		if err := h.FinalizeTest(ctx, testID); err != nil {
			log.Printf("Failed to finalize expired test %s: %v", testID, err)
		}
		return false, nil, nil
	}

	useTreatment := h.rng.Float64() < test.TrafficSplit

	group := models.GroupControl
	config := test.ControlConfig
	if useTreatment {
		group = models.GroupTreatment
		config = test.TreatmentConfig
	}
	h.metrics.RecordAssignment(test.TeamID, group)

	return useTreatment, &models.Assignment{TestID: testID, Group: group, Config: config}, nil
}

// RecordResult appends one outcome row for a group. No aggregation happens
// at write time.
func (h *Harness) RecordResult(ctx context.Context, testID, group string, success bool, durationSeconds float64, errMsg string) error {
	if group != models.GroupControl && group != models.GroupTreatment {
		return fmt.Errorf("unknown test group: %s", group)
	}

	result := &models.ABTestObservation{
		TestID:          testID,
		Group:           group,
		Success:         success,
		DurationSeconds: durationSeconds,
		Error:           errMsg,
		CreatedAt:       h.now(),
	}
	if err := h.store.InsertABTestResult(ctx, result); err != nil {
		return fmt.Errorf("failed to record test result: %w", err)
	}

	test, err := h.store.GetABTest(ctx, testID)
	if err == nil {
		h.metrics.TestResults.WithLabelValues(test.TeamID, group, boolLabel(success)).Inc()
	}
	return nil
}

// Report computes per-group metrics, the significance figure and a textual
// recommendation. Deterministic given the stored observations.
func (h *Harness) Report(ctx context.Context, testID string) (*models.ABTestReport, error) {
	results, err := h.store.ListABTestResults(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get test results: %w", err)
	}

	control := groupMetrics(results, models.GroupControl)
	treatment := groupMetrics(results, models.GroupTreatment)
	significance := calculateSignificance(control, treatment)

	return &models.ABTestReport{
		TestID:          testID,
		ControlGroup:    "base_agent",
		TreatmentGroup:  "evolved_agent",
		Control:         control,
		Treatment:       treatment,
		Significance:    significance,
		Recommendation:  recommendation(control, treatment, significance),
		ConfidenceLevel: confidenceLevel(control.SampleSize + treatment.SampleSize),
	}, nil
}

// FinalizeTest marks a test completed with its final recommendation. When
// the verdict is a positive impact, the evolution under test is stamped as
// applied with the measured success-rate delta.
func (h *Harness) FinalizeTest(ctx context.Context, testID string) error {
	report, err := h.Report(ctx, testID)
	if err != nil {
		return err
	}

	if err := h.store.CompleteABTest(ctx, testID, report.Recommendation, h.now()); err != nil {
		return fmt.Errorf("failed to finalize test: %w", err)
	}

	if isPositive(report.Recommendation) {
		test, err := h.store.GetABTest(ctx, testID)
		if err != nil {
			return fmt.Errorf("failed to finalize test: %w", err)
		}
		delta := report.Treatment.SuccessRate - report.Control.SuccessRate
		if err := h.store.MarkEvolutionApplied(ctx, test.EvolutionID, delta, h.now()); err != nil {
			return fmt.Errorf("failed to mark evolution applied: %w", err)
		}
		h.metrics.EvolutionsApplied.WithLabelValues(test.TeamID, "prompt").Inc()
	}

	log.Printf("Finalized A/B test %s: %s", testID, report.Recommendation)
	return nil
}

// ActiveTests returns the team's running tests.
func (h *Harness) ActiveTests(ctx context.Context, teamID string) ([]*models.ABTest, error) {
	tests, err := h.store.ListActiveABTests(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active tests: %w", err)
	}
	return tests, nil
}

func groupMetrics(results []*models.ABTestObservation, group string) models.GroupMetrics {
	var requests, successes, errors int
	var durationSum float64
	for _, r := range results {
		if r.Group != group {
			continue
		}
		requests++
		if r.Success {
			successes++
		} else {
			errors++
		}
		durationSum += r.DurationSeconds
	}
	if requests == 0 {
		return models.GroupMetrics{}
	}
	return models.GroupMetrics{
		SuccessRate: float64(successes) / float64(requests),
		ErrorRate:   float64(errors) / float64(requests),
		AvgDuration: durationSum / float64(requests),
		SampleSize:  requests,
	}
}

// calculateSignificance runs a pooled two-proportion z-test and maps the
// z-score onto confidence bands: 0.95 past the 95% critical value, 0.90
// past the 90% one, proportional below that.
func calculateSignificance(control, treatment models.GroupMetrics) float64 {
	n1, n2 := control.SampleSize, treatment.SampleSize
	if n1 < minSampleSize || n2 < minSampleSize {
		return 0
	}

	p1, p2 := control.SuccessRate, treatment.SuccessRate
	pPool := (p1*float64(n1) + p2*float64(n2)) / float64(n1+n2)
	se := math.Sqrt(pPool * (1 - pPool) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 0
	}

	z := math.Abs((p2 - p1) / se)
	switch {
	case z > 1.96:
		return 0.95
	case z > 1.645:
		return 0.90
	default:
		return z / 1.96 * 0.95
	}
}

func recommendation(control, treatment models.GroupMetrics, significance float64) string {
	if control.SampleSize < minSampleSize || treatment.SampleSize < minSampleSize {
		return "Continue testing - insufficient data"
	}

	successDiff := treatment.SuccessRate - control.SuccessRate
	durationDiff := treatment.AvgDuration - control.AvgDuration

	if significance < 0.90 {
		return "No significant difference - continue monitoring"
	}

	switch {
	case successDiff > 0.05 && durationDiff < control.AvgDuration*0.2:
		return "Strong positive impact - recommend applying evolution"
	case successDiff > 0.02:
		return "Moderate positive impact - consider applying evolution"
	case successDiff < -0.05:
		return "Negative impact - do not apply evolution"
	default:
		return "Minimal impact - evolution may not be necessary"
	}
}

func confidenceLevel(totalSamples int) float64 {
	switch {
	case totalSamples >= 1000:
		return 0.99
	case totalSamples >= 500:
		return 0.95
	case totalSamples >= 100:
		return 0.90
	case totalSamples >= 50:
		return 0.80
	default:
		return float64(totalSamples) / 50 * 0.80
	}
}

func isPositive(rec string) bool {
	return rec == "Strong positive impact - recommend applying evolution" ||
		rec == "Moderate positive impact - consider applying evolution"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
