package models

import "time"

// ABTestStatus is the lifecycle state of an A/B test.
type ABTestStatus string

const (
	ABTestPending   ABTestStatus = "pending"
	ABTestActive    ABTestStatus = "active"
	ABTestCompleted ABTestStatus = "completed"
)

// A/B test group names.
const (
	GroupControl   = "control"
	GroupTreatment = "treatment"
)

// ABTest is a live comparison between an agent's base (control) and evolved
// (treatment) configuration.
type ABTest struct {
	ID                  string       `json:"id"`
	TeamID              string       `json:"team_id"`
	AgentRole           string       `json:"agent_role"`
	EvolutionID         string       `json:"evolution_id"`
	Status              ABTestStatus `json:"status"`
	TrafficSplit        float64      `json:"traffic_split"`
	StartTime           time.Time    `json:"start_time"`
	EndTime             time.Time    `json:"end_time"`
	ControlConfig       string       `json:"control_config"`
	TreatmentConfig     string       `json:"treatment_config"`
	FinalRecommendation string       `json:"final_recommendation,omitempty"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
}

// ABTestObservation is one recorded outcome within a test group.
type ABTestObservation struct {
	ID              string    `json:"id"`
	TestID          string    `json:"test_id"`
	Group           string    `json:"group_name"`
	Success         bool      `json:"success"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// GroupMetrics summarizes one test group's observations.
type GroupMetrics struct {
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
	AvgDuration float64 `json:"avg_duration"`
	SampleSize  int     `json:"sample_size"`
}

// ABTestReport is the derived read of a test: per-group metrics, a
// significance figure and a textual recommendation.
type ABTestReport struct {
	TestID          string       `json:"test_id"`
	ControlGroup    string       `json:"control_group"`
	TreatmentGroup  string       `json:"treatment_group"`
	Control         GroupMetrics `json:"control_metrics"`
	Treatment       GroupMetrics `json:"treatment_metrics"`
	Significance    float64      `json:"statistical_significance"`
	Recommendation  string       `json:"recommendation"`
	ConfidenceLevel float64      `json:"confidence_level"`
}

// Assignment is the group choice for one task invocation under a test.
type Assignment struct {
	TestID string `json:"test_id"`
	Group  string `json:"group"`
	Config string `json:"config"`
}
