package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drewfead/tascade/internal/ai"
	"github.com/drewfead/tascade/internal/logging"
)

// DefaultGenerateCount is the number of tasks requested when none is given.
const DefaultGenerateCount = 10

const generateSystemPrompt = "You are an expert software project planner. You break product requirements into concrete, ordered development tasks. Respond only with JSON."

// GenerateTasks asks the provider to turn a requirements document into at
// most n tasks. Dependencies given as 1-based positions in the generated list
// are rewritten to task ids.
func GenerateTasks(ctx context.Context, p ai.Provider, prd string, n int) ([]*Task, error) {
	if p == nil {
		return nil, ai.ErrNoProvider
	}
	if strings.TrimSpace(prd) == "" {
		return nil, errors.New("requirements document is empty")
	}
	if n <= 0 {
		n = DefaultGenerateCount
	}

	prompt := fmt.Sprintf(`Generate up to %d development tasks from this product requirements document.

%s

Respond with a JSON object:
{"tasks": [{"title": "...", "description": "...", "priority": "low|medium|high",
  "dependencies": [<1-based index of earlier tasks>],
  "verification_criteria": "one criterion per line",
  "implementation_guide": "..."}]}`, n, prd)

	data, err := p.GenerateStructuredData(ctx, ai.Request{Prompt: prompt, SystemPrompt: generateSystemPrompt})
	if err != nil {
		return nil, err
	}

	raw, ok := data["tasks"].([]any)
	if !ok {
		raw, ok = data["items"].([]any)
	}
	if !ok {
		return nil, fmt.Errorf("%s response has no tasks", p.Name())
	}

	tasks := make([]*Task, 0, min(n, len(raw)))
	for _, item := range raw {
		if len(tasks) == n {
			break
		}
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title, _ := obj["title"].(string)
		if strings.TrimSpace(title) == "" {
			continue
		}
		desc, _ := obj["description"].(string)
		t := New(title, desc)
		if s, _ := obj["priority"].(string); s != "" {
			if pr, err := ParsePriority(s); err == nil {
				t.Priority = pr
			}
		}
		t.VerificationCriteria, _ = obj["verification_criteria"].(string)
		t.ImplementationGuide, _ = obj["implementation_guide"].(string)
		if deps, ok := obj["dependencies"].([]any); ok {
			for _, d := range deps {
				if idx, ok := number(d); ok && int(idx) >= 1 && int(idx) <= len(tasks) {
					t.Dependencies = append(t.Dependencies, tasks[int(idx)-1].ID)
				}
			}
		}
		tasks = append(tasks, t)
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("%s response contained no usable tasks", p.Name())
	}
	logging.Info("Generated tasks", "provider", p.Name(), "count", len(tasks))
	return tasks, nil
}

const splitSystemPrompt = "You are an expert software engineer who decomposes tasks into small, ordered subtasks. Respond only with JSON."

// SplitWithProvider asks the provider for subtask titles and descriptions and
// falls back to the template split when the provider is missing or fails.
func SplitWithProvider(ctx context.Context, p ai.Provider, t *Task, strategy Strategy, n int) ([]*Task, Strategy, error) {
	subtasks, chosen, err := Split(t, strategy, n)
	if err != nil || p == nil {
		return subtasks, chosen, err
	}

	prompt := fmt.Sprintf(`Split this task into %d subtasks using a %s decomposition.

Title: %s
Description: %s

Respond with a JSON object:
{"subtasks": [{"title": "...", "description": "..."}]}`, max(len(subtasks), n), chosen, t.Title, t.Description)

	data, err := p.GenerateStructuredData(ctx, ai.Request{Prompt: prompt, SystemPrompt: splitSystemPrompt})
	if err != nil {
		logging.Warn("AI split failed, using templates", "task", t.ID, "error", err)
		return subtasks, chosen, nil
	}
	raw, _ := data["subtasks"].([]any)
	if len(raw) == 0 {
		logging.Warn("AI split returned no subtasks, using templates", "task", t.ID)
		return subtasks, chosen, nil
	}

	for i, sub := range subtasks {
		if i >= len(raw) {
			return subtasks[:i], chosen, nil
		}
		obj, _ := raw[i].(map[string]any)
		if title, _ := obj["title"].(string); title != "" {
			sub.Title = title
		}
		if desc, _ := obj["description"].(string); desc != "" {
			sub.Description = desc
		}
	}
	return subtasks, chosen, nil
}
