package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/drewfead/tascade/internal/task"
)

func TestTaskTable(t *testing.T) {
	ForceColors(false)

	parent := task.New("Checkout flow", "")
	parent.ID = "1"
	sub1 := task.New("Design Data Model", "")
	sub1.ID = "1.1"
	sub1.ParentID = "1"
	sub2 := task.New("Create API Interface", "")
	sub2.ID = "1.2"
	sub2.ParentID = "1"
	sub2.Dependencies = []string{"1.1"}
	sub2.Status = task.StatusCompleted

	var buf bytes.Buffer
	TaskTable(&buf, []*task.Task{parent, sub1, sub2})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], TreeBranch+" 1.1") {
		t.Errorf("expected nested subtask, got %q", lines[2])
	}
	if !strings.Contains(lines[3], TreeLastBranch+" 1.2") || !strings.Contains(lines[3], CheckMark+" completed") {
		t.Errorf("unexpected last row %q", lines[3])
	}
	if !strings.HasSuffix(lines[3], "1.1") {
		t.Errorf("expected dependencies column, got %q", lines[3])
	}
}

func TestTaskTableEmpty(t *testing.T) {
	ForceColors(false)
	var buf bytes.Buffer
	TaskTable(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No tasks." {
		t.Errorf("got %q", buf.String())
	}
}

func TestTaskMarkdown(t *testing.T) {
	tk := task.New("Parser", "Parse things")
	tk.ID = "3"
	tk.VerificationCriteria = "handles comments\n\nreports errors"
	score := 4.5
	tk.ComplexityScore = &score

	md := TaskMarkdown(tk)
	for _, want := range []string{"# 3: Parser", "**Complexity:** 4.5/10", "## Verification Criteria", "- reports errors"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "## Dependencies") {
		t.Error("empty sections should be omitted")
	}

	ForceColors(false)
	if RenderMarkdown(md, 80) != md {
		t.Error("RenderMarkdown should return raw text without colors")
	}
}

func TestVerificationReport(t *testing.T) {
	ForceColors(false)
	var buf bytes.Buffer
	VerificationReport(&buf, task.Verification{
		TaskID:          "3",
		Score:           40,
		Assessment:      "Task verification failed with a score of 40%",
		Criteria:        []task.CriterionScore{{Criterion: "handles comments", Score: 40}},
		Recommendations: []string{"Address criterion: handles comments"},
	})
	out := buf.String()
	if !strings.Contains(out, "not verified (40%)") || !strings.Contains(out, " 40%  handles comments") {
		t.Errorf("unexpected report:\n%s", out)
	}
}
