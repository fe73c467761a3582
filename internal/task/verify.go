package task

import (
	"fmt"
	"strings"
	"time"
)

// VerifiedThreshold is the minimum overall score for a task to count as verified.
const VerifiedThreshold = 80

// weakCriterionThreshold marks criteria that get their own recommendation.
const weakCriterionThreshold = 60

// CriterionScore is the score of one verification criterion.
type CriterionScore struct {
	Criterion string `json:"criterion"`
	Score     int    `json:"score"`
}

// Verification is the outcome of verifying a task against artifacts.
type Verification struct {
	TaskID          string           `json:"task_id"`
	Verified        bool             `json:"verified"`
	Score           int              `json:"score"`
	Assessment      string           `json:"assessment"`
	Criteria        []CriterionScore `json:"criteria"`
	Recommendations []string         `json:"recommendations"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Criteria splits verification criteria into non-empty trimmed lines.
func Criteria(t *Task) []string {
	var out []string
	for line := range strings.Lines(t.VerificationCriteria) {
		if c := strings.TrimSpace(line); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Verify scores each criterion by how many of its keywords (words longer than
// three characters) appear in the string artifacts. The overall score is the
// integer mean of the criterion scores.
func Verify(t *Task, artifacts map[string]any) Verification {
	v := Verification{
		TaskID:          t.ID,
		Criteria:        []CriterionScore{},
		Recommendations: []string{},
		Timestamp:       time.Now().UTC(),
	}

	criteria := Criteria(t)
	if len(criteria) == 0 {
		v.Assessment = "No specific verification criteria found"
		v.Recommendations = append(v.Recommendations, "Define specific verification criteria for the task")
		return v
	}

	var texts []string
	for _, a := range artifacts {
		if s, ok := a.(string); ok {
			texts = append(texts, strings.ToLower(s))
		}
	}

	total := 0
	for _, c := range criteria {
		score := scoreCriterion(c, texts, len(artifacts) > 0)
		v.Criteria = append(v.Criteria, CriterionScore{Criterion: c, Score: score})
		total += score
	}
	v.Score = total / len(criteria)
	v.Verified = v.Score >= VerifiedThreshold

	if v.Verified {
		v.Assessment = fmt.Sprintf("Task verified with a score of %d%%", v.Score)
		return v
	}

	v.Assessment = fmt.Sprintf("Task verification failed with a score of %d%%", v.Score)
	v.Recommendations = append(v.Recommendations,
		"Review the verification criteria and ensure the implementation meets them",
		"Provide more detailed artifacts for verification")
	for _, cs := range v.Criteria {
		if cs.Score < weakCriterionThreshold {
			v.Recommendations = append(v.Recommendations, "Address criterion: "+cs.Criterion)
		}
	}
	return v
}

func scoreCriterion(criterion string, texts []string, haveArtifacts bool) int {
	if !haveArtifacts {
		return 0
	}
	var keywords []string
	for _, w := range strings.Fields(criterion) {
		if len(w) > 3 {
			keywords = append(keywords, strings.ToLower(w))
		}
	}
	if len(keywords) == 0 {
		return 50
	}

	matches := 0
	for _, text := range texts {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
	}
	return min(100, matches*100/len(keywords))
}
