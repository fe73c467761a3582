package task

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/drewfead/tascade/internal/ai"
	"github.com/drewfead/tascade/internal/logging"
)

// ComplexityFactors are the raw inputs of the heuristic score.
type ComplexityFactors struct {
	DescriptionLength int `json:"description_length"`
	DependenciesCount int `json:"dependencies_count"`
	SubtasksCount     int `json:"subtasks_count"`
}

// ComplexityAnalysis is the result of analyzing a task.
type ComplexityAnalysis struct {
	TaskID               string            `json:"task_id"`
	ComplexityScore      float64           `json:"complexity_score"`
	EstimatedEffortHours float64           `json:"estimated_effort_hours"`
	Factors              ComplexityFactors `json:"factors"`
	Recommendations      []string          `json:"recommendations"`
	Source               string            `json:"source"`
}

// AnalyzeComplexity scores a task from its description length, dependency
// count and subtask count. The score is capped at 10.
func AnalyzeComplexity(t *Task) ComplexityAnalysis {
	f := ComplexityFactors{
		DescriptionLength: len(t.Description),
		DependenciesCount: len(t.Dependencies),
		SubtasksCount:     len(t.Subtasks),
	}
	score := math.Min(10, float64(f.DescriptionLength)/100+
		float64(f.DependenciesCount)*1.5+
		float64(f.SubtasksCount)*0.5)

	var recs []string
	switch {
	case score > 7:
		recs = append(recs,
			"Consider breaking this task into smaller subtasks",
			"Schedule a planning session for this complex task")
	case score > 4:
		recs = append(recs, "Review dependencies before starting")
	}
	if f.DependenciesCount > 3 {
		recs = append(recs, "Map out dependency chain to identify critical path")
	}
	if recs == nil {
		recs = []string{}
	}

	return ComplexityAnalysis{
		TaskID:               t.ID,
		ComplexityScore:      score,
		EstimatedEffortHours: score * 0.8,
		Factors:              f,
		Recommendations:      recs,
		Source:               "heuristic",
	}
}

// ApplyComplexity stores the analysis on the task. An existing effort estimate is kept.
func ApplyComplexity(t *Task, a ComplexityAnalysis) {
	score := a.ComplexityScore
	t.ComplexityScore = &score
	if t.EstimatedEffortHours == nil || *t.EstimatedEffortHours == 0 {
		effort := a.EstimatedEffortHours
		t.EstimatedEffortHours = &effort
	}
	t.Touch()
}

const complexitySystemPrompt = "You are an expert software project estimator. Respond only with JSON."

// AnalyzeComplexityWithProvider asks the provider for an analysis and falls
// back to the heuristic when the provider is missing or fails.
func AnalyzeComplexityWithProvider(ctx context.Context, p ai.Provider, t *Task) ComplexityAnalysis {
	heuristic := AnalyzeComplexity(t)
	if p == nil {
		return heuristic
	}

	taskJSON, _ := json.MarshalIndent(map[string]any{
		"id":           t.ID,
		"title":        t.Title,
		"description":  t.Description,
		"dependencies": t.Dependencies,
		"subtasks":     t.Subtasks,
	}, "", "  ")
	prompt := fmt.Sprintf(`Analyze the complexity of this task:

%s

Respond with a JSON object:
{"complexity_score": <number 1-10>, "estimated_effort_hours": <number>, "recommendations": ["..."]}`, taskJSON)

	data, err := p.GenerateStructuredData(ctx, ai.Request{Prompt: prompt, SystemPrompt: complexitySystemPrompt})
	if err != nil {
		logging.Warn("AI complexity analysis failed, using heuristic", "task", t.ID, "error", err)
		return heuristic
	}

	score, ok := number(data["complexity_score"])
	if !ok {
		logging.Warn("AI complexity analysis missing score, using heuristic", "task", t.ID)
		return heuristic
	}
	out := heuristic
	out.Source = p.Name()
	out.ComplexityScore = math.Max(0, math.Min(10, score))
	out.EstimatedEffortHours = out.ComplexityScore * 0.8
	if effort, ok := number(data["estimated_effort_hours"]); ok && effort > 0 {
		out.EstimatedEffortHours = effort
	}
	if recs := stringList(data["recommendations"]); len(recs) > 0 {
		out.Recommendations = recs
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
