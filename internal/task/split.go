package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Strategy names a decomposition approach.
type Strategy string

const (
	StrategyAuto             Strategy = "auto"
	StrategyFunctional       Strategy = "functional"
	StrategyTechnical        Strategy = "technical"
	StrategyDevelopmentStage Strategy = "development_stage"
	StrategyRiskBased        Strategy = "risk_based"
)

type template struct {
	title       string
	description string // %s is replaced by the parent title
}

var strategyTemplates = map[Strategy][]template{
	StrategyFunctional: {
		{"Define Input Requirements", "Define and validate all input requirements for %s"},
		{"Implement Core Processing", "Implement the core processing logic for %s"},
		{"Create Output Handling", "Create the output handling and validation for %s"},
		{"Implement Error Handling", "Implement comprehensive error handling for %s"},
		{"Create Unit Tests", "Create unit tests to verify the functionality of %s"},
	},
	StrategyTechnical: {
		{"Design Data Model", "Design the data model and schema for %s"},
		{"Implement Business Logic", "Implement the core business logic for %s"},
		{"Create API Interface", "Create the API interface for %s"},
		{"Implement UI Components", "Implement the user interface components for %s"},
		{"Create Integration Tests", "Create integration tests to verify %s"},
	},
	StrategyDevelopmentStage: {
		{"Define Requirements", "Define detailed requirements for %s"},
		{"Create Prototype", "Create a basic prototype for %s"},
		{"Implement Core Features", "Implement the core features of %s"},
		{"Add Optimization", "Add performance optimization for %s"},
		{"Implement Advanced Features", "Implement advanced features for %s"},
	},
	StrategyRiskBased: {
		{"Identify Risk Factors", "Identify all risk factors for %s"},
		{"Implement Core Functionality", "Implement the core functionality of %s with minimal risk"},
		{"Address Security Concerns", "Address security concerns for %s"},
		{"Implement Edge Cases", "Implement handling for edge cases in %s"},
		{"Create Validation Tests", "Create validation tests to verify risk mitigation for %s"},
	},
}

// Strategies lists the concrete strategies in a stable order.
func Strategies() []Strategy {
	return []Strategy{StrategyFunctional, StrategyTechnical, StrategyDevelopmentStage, StrategyRiskBased}
}

// ParseStrategy validates a strategy name. Empty means auto.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if st == "" || st == StrategyAuto {
		return StrategyAuto, nil
	}
	if _, ok := strategyTemplates[st]; ok {
		return st, nil
	}
	names := make([]string, 0, len(strategyTemplates))
	for _, s := range Strategies() {
		names = append(names, string(s))
	}
	return "", fmt.Errorf("invalid strategy %q: valid strategies are %s or auto", s, strings.Join(names, ", "))
}

// ChooseStrategy picks a strategy from keywords in the description.
func ChooseStrategy(t *Task) Strategy {
	desc := strings.ToLower(t.Description)
	containsAny := func(words ...string) bool {
		return slices.ContainsFunc(words, func(w string) bool { return strings.Contains(desc, w) })
	}
	switch {
	case containsAny("risk", "security"):
		return StrategyRiskBased
	case containsAny("api", "interface"):
		return StrategyTechnical
	case containsAny("phase", "stage"):
		return StrategyDevelopmentStage
	default:
		return StrategyFunctional
	}
}

// SubtaskCount returns the default number of subtasks for t.
func SubtaskCount(t *Task) int {
	if t.ComplexityScore == nil {
		return 3
	}
	return max(2, min(10, int(*t.ComplexityScore)))
}

// Split decomposes t into subtasks using strategy. n <= 0 selects the
// default count. Each subtask inherits the parent priority, gets the id
// <parent>.<i> and depends on the one before it.
func Split(t *Task, strategy Strategy, n int) ([]*Task, Strategy, error) {
	if strategy == "" || strategy == StrategyAuto {
		strategy = ChooseStrategy(t)
	}
	templates, ok := strategyTemplates[strategy]
	if !ok {
		return nil, "", fmt.Errorf("invalid strategy %q", strategy)
	}
	if n <= 0 {
		n = SubtaskCount(t)
	}
	templates = templates[:min(n, len(templates))]

	now := time.Now().UTC()
	subtasks := make([]*Task, 0, len(templates))
	for i, tpl := range templates {
		sub := &Task{
			ID:           fmt.Sprintf("%s.%d", t.ID, i+1),
			Title:        tpl.title,
			Description:  fmt.Sprintf(tpl.description, t.Title),
			Status:       StatusPending,
			Priority:     t.Priority,
			Dependencies: []string{},
			Subtasks:     []string{},
			ParentID:     t.ID,
			History:      []HistoryEntry{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if i > 0 {
			sub.Dependencies = append(sub.Dependencies, fmt.Sprintf("%s.%d", t.ID, i))
		}
		subtasks = append(subtasks, sub)
	}
	return subtasks, strategy, nil
}
