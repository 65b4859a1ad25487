// Package jobfile parses the YAML job definition files accepted by the
// run command into a validated task list.
package jobfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conclave/internal/graph"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// JobFile is the on-disk job definition.
type JobFile struct {
	// Intent describes what the job is trying to achieve.
	Intent string `yaml:"intent"`
	// Initiator identifies who is requesting the job. Optional; the
	// CLI falls back to the current user.
	Initiator string `yaml:"initiator,omitempty"`
	// SharedContext holds named values visible to every task.
	SharedContext map[string]string `yaml:"shared_context,omitempty"`
	// Tasks is the full task list with dependencies.
	Tasks []TaskDef `yaml:"tasks"`
}

// TaskDef is one task entry in a job file.
type TaskDef struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Description        string   `yaml:"description,omitempty"`
	Priority           string   `yaml:"priority,omitempty"`
	DependsOn          []string `yaml:"depends_on,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty"`
}

// Load reads and validates a job file. The task graph is checked for
// duplicate ids, dangling dependencies, and cycles before anything runs.
func Load(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates job file contents.
func Parse(data []byte) (*JobFile, error) {
	var jf JobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if len(jf.Tasks) == 0 {
		return nil, fmt.Errorf("job file defines no tasks")
	}
	if jf.Intent == "" {
		return nil, fmt.Errorf("job file is missing an intent")
	}

	for i, td := range jf.Tasks {
		if td.ID == "" {
			return nil, fmt.Errorf("task %d is missing an id", i+1)
		}
		if td.Name == "" {
			return nil, fmt.Errorf("task %s is missing a name", td.ID)
		}
		if td.Priority != "" && !models.Priority(td.Priority).Valid() {
			return nil, fmt.Errorf("task %s has unknown priority %q", td.ID, td.Priority)
		}
	}

	if err := graph.Validate(jf.Models()); err != nil {
		return nil, err
	}
	return &jf, nil
}

// Models converts the task definitions into model tasks ready for job
// creation. Unset priorities default to medium.
func (jf *JobFile) Models() []*models.Task {
	tasks := make([]*models.Task, 0, len(jf.Tasks))
	for _, td := range jf.Tasks {
		p := models.Priority(td.Priority)
		if !p.Valid() {
			p = models.PriorityMedium
		}
		tasks = append(tasks, &models.Task{
			ID:                 td.ID,
			Name:               td.Name,
			Description:        td.Description,
			Priority:           p,
			DependsOn:          td.DependsOn,
			AcceptanceCriteria: td.AcceptanceCriteria,
			Status:             models.TaskStatusPending,
		})
	}
	return tasks
}
