package jobfile

import (
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/conclave/internal/graph"
	"github.com/ShayCichocki/conclave/pkg/models"
)

const sampleFile = `
intent: Migrate the billing service to the new schema
initiator: shay
shared_context:
  repo: /srv/billing
  schema: v2
tasks:
  - id: t1
    name: Write migration scripts
    priority: critical
    acceptance_criteria:
      - scripts apply cleanly on a copy of production
  - id: t2
    name: Update ORM models
    depends_on: [t1]
  - id: t3
    name: Backfill reports
    priority: low
    depends_on: [t1]
`

func TestParseSample(t *testing.T) {
	jf, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if jf.Intent == "" || jf.Initiator != "shay" {
		t.Errorf("metadata not parsed: %+v", jf)
	}
	if jf.SharedContext["schema"] != "v2" {
		t.Errorf("shared_context = %v", jf.SharedContext)
	}

	tasks := jf.Models()
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	if tasks[0].Priority != models.PriorityCritical {
		t.Errorf("t1 priority = %s", tasks[0].Priority)
	}
	if tasks[1].Priority != models.PriorityMedium {
		t.Errorf("unset priority = %s, want medium default", tasks[1].Priority)
	}
	if tasks[1].Status != models.TaskStatusPending {
		t.Errorf("t2 status = %s, want pending", tasks[1].Status)
	}
	if len(tasks[0].AcceptanceCriteria) != 1 {
		t.Errorf("t1 acceptance criteria = %v", tasks[0].AcceptanceCriteria)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no tasks", "intent: something\ntasks: []\n", "no tasks"},
		{"no intent", "tasks:\n  - id: t1\n    name: a\n", "intent"},
		{"missing id", "intent: x\ntasks:\n  - name: a\n", "missing an id"},
		{"missing name", "intent: x\ntasks:\n  - id: t1\n", "missing a name"},
		{"bad priority", "intent: x\ntasks:\n  - id: t1\n    name: a\n    priority: urgent\n", "unknown priority"},
		{"not yaml", "{{{", "parse job file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestParseRejectsCycle(t *testing.T) {
	in := `
intent: impossible
tasks:
  - id: t1
    name: a
    depends_on: [t2]
  - id: t2
    name: b
    depends_on: [t1]
`
	_, err := Parse([]byte(in))
	var graphErr *graph.InvalidTaskGraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("err = %v, want InvalidTaskGraphError", err)
	}
}
