package reasoning

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ============================================================================
// PLAN TYPES
// ============================================================================

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Task is one unit of work in a plan. Dependencies name other task IDs that
// must complete before this task becomes executable.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	Dependencies []string   `json:"dependencies"`
	Result       string     `json:"result"`
	Error        string     `json:"error"`
}

// Plan is an ordered set of tasks working toward a goal.
type Plan struct {
	Goal     string  `json:"goal"`
	Tasks    []*Task `json:"tasks"`
	Revision int     `json:"revision"`
}

// NextExecutableTask returns the first pending task whose dependencies have
// all completed, with its index for patch paths. Returns nil when nothing is
// currently executable.
func (p *Plan) NextExecutableTask() (*Task, int) {
	done := make(map[string]bool, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.Status == TaskCompleted {
			done[task.ID] = true
		}
	}

	for i, task := range p.Tasks {
		if task.Status != TaskPending {
			continue
		}
		ready := true
		for _, dep := range task.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return task, i
		}
	}
	return nil, -1
}

// IsComplete reports whether every task reached a terminal status:
// completed, failed, or skipped.
func (p *Plan) IsComplete() bool {
	for _, task := range p.Tasks {
		switch task.Status {
		case TaskCompleted, TaskFailed, TaskSkipped:
		default:
			return false
		}
	}
	return true
}

// CompletedResults returns the results of completed tasks in plan order.
func (p *Plan) CompletedResults() []string {
	var results []string
	for _, task := range p.Tasks {
		if task.Status == TaskCompleted && task.Result != "" {
			results = append(results, task.Result)
		}
	}
	return results
}

// ============================================================================
// PLAN PARSING
// ============================================================================

type rawPlan struct {
	Goal  string    `json:"goal"`
	Tasks []rawTask `json:"tasks"`
}

type rawTask struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
}

// parsePlan extracts a plan from model output. Both the goal and a non-empty
// task list must be present; anything else returns nil.
func parsePlan(content string, maxTasks int) *Plan {
	payload := extractJSON(content)

	var keys map[string]json.RawMessage
	if json.Unmarshal([]byte(payload), &keys) != nil {
		return nil
	}
	if _, ok := keys["goal"]; !ok {
		return nil
	}
	if _, ok := keys["tasks"]; !ok {
		return nil
	}

	var raw rawPlan
	if json.Unmarshal([]byte(payload), &raw) != nil {
		return nil
	}
	if len(raw.Tasks) == 0 {
		return nil
	}
	if maxTasks > 0 && len(raw.Tasks) > maxTasks {
		raw.Tasks = raw.Tasks[:maxTasks]
	}

	plan := &Plan{Goal: raw.Goal}
	for _, rt := range raw.Tasks {
		task := &Task{
			ID:           rt.ID,
			Title:        rt.Title,
			Description:  rt.Description,
			Status:       TaskPending,
			Dependencies: rt.Dependencies,
		}
		if task.ID == "" {
			task.ID = uuid.New().String()[:8]
		}
		if task.Title == "" {
			task.Title = "Untitled Task"
		}
		if task.Dependencies == nil {
			task.Dependencies = []string{}
		}
		plan.Tasks = append(plan.Tasks, task)
	}
	return plan
}
