package document

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conclave/pkg/models"
)

const frontMatterFence = "---"

// freeTextIndent prefixes every line of worker-written free text on disk.
// Indenting keeps fences and headings inside that text from being read
// back as document structure.
const freeTextIndent = "    "

// knownMetaFields are the front-matter keys the codec owns. Everything
// else is preserved verbatim in Document.Extra.
var knownMetaFields = map[string]bool{
	"job_id":           true,
	"initiator":        true,
	"status":           true,
	"created_at":       true,
	"completed_at":     true,
	"failure_reason":   true,
	"cancel_requested": true,
}

var eventLineRe = regexp.MustCompile(`^- (\S+) \[([^\]]+)\] (.*)$`)

// Encode renders the document to its on-disk markdown form. The task
// manifest is derived from task state on every encode; all other sections
// round-trip through Parse unchanged.
func Encode(d *Document) ([]byte, error) {
	if d.Job == nil {
		return nil, fmt.Errorf("encode: document has no job")
	}

	var buf bytes.Buffer

	meta, err := yaml.Marshal(d.Job)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	buf.WriteString(frontMatterFence + "\n")
	buf.Write(meta)
	// Unknown fields are appended after the known block, sorted for a
	// stable byte representation.
	extraKeys := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		line, err := yaml.Marshal(map[string]any{k: d.Extra[k]})
		if err != nil {
			return nil, fmt.Errorf("encode extra field %s: %w", k, err)
		}
		buf.Write(line)
	}
	buf.WriteString(frontMatterFence + "\n\n")

	fmt.Fprintf(&buf, "# Job %s\n\n", d.Job.ID)

	buf.WriteString("## Intent\n\n")
	writeFreeText(&buf, d.Job.Intent)
	buf.WriteString("\n")

	buf.WriteString("## Shared Context\n\n")
	if len(d.Job.SharedContext) > 0 {
		ctx, err := marshalSortedStringMap(d.Job.SharedContext)
		if err != nil {
			return nil, fmt.Errorf("encode shared context: %w", err)
		}
		buf.WriteString("```yaml\n")
		buf.Write(ctx)
		buf.WriteString("```\n")
	}
	buf.WriteString("\n")

	writeManifest(&buf, d.Job)

	buf.WriteString("## Tasks\n\n")
	for _, t := range d.Job.Tasks {
		if err := writeTask(&buf, t); err != nil {
			return nil, err
		}
	}

	buf.WriteString("## Synthesis\n\n")
	writeFreeText(&buf, d.Synthesis)
	buf.WriteString("\n")

	buf.WriteString("## Event Log\n\n")
	for _, e := range d.Events {
		buf.WriteString(e.String() + "\n")
	}

	return buf.Bytes(), nil
}

// marshalSortedStringMap marshals a string map with deterministic key order.
func marshalSortedStringMap(m map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		line, err := yaml.Marshal(map[string]string{k: m[k]})
		if err != nil {
			return nil, err
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// writeManifest renders the derived summary table: per-status counts plus
// one row per task.
func writeManifest(buf *bytes.Buffer, job *models.Job) {
	counts := job.Counts()
	buf.WriteString("## Task Manifest\n\n")
	fmt.Fprintf(buf, "Total: %d | Complete: %d | In Progress: %d | Failed: %d\n\n",
		len(job.Tasks),
		counts[models.TaskStatusComplete],
		counts[models.TaskStatusAssigned]+counts[models.TaskStatusInProgress],
		counts[models.TaskStatusFailed])

	buf.WriteString("| ID | Name | Status | Priority | Assignee |\n")
	buf.WriteString("|----|------|--------|----------|----------|\n")
	for _, t := range job.Tasks {
		assignee := t.Assignee
		if assignee == "" {
			assignee = "unassigned"
		}
		fmt.Fprintf(buf, "| %s | %s | %s | %s | %s |\n",
			t.ID, sanitizeCell(t.Name), t.Status, t.Priority, assignee)
	}
	buf.WriteString("\n")
}

func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func writeTask(buf *bytes.Buffer, t *models.Task) error {
	fmt.Fprintf(buf, "### Task %s\n\n", t.ID)

	header, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	buf.WriteString("```yaml\n")
	buf.Write(header)
	buf.WriteString("```\n\n")

	buf.WriteString("#### Output\n\n")
	writeFreeText(buf, t.Output)
	buf.WriteString("\n")

	buf.WriteString("#### Notes\n\n")
	writeFreeText(buf, t.Notes)
	buf.WriteString("\n")
	return nil
}

// writeFreeText renders worker- or requester-supplied text with every
// non-blank line behind freeTextIndent, so nothing inside it can
// masquerade as a heading, fence, or event line on the next parse.
func writeFreeText(buf *bytes.Buffer, s string) {
	if s == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line == "" {
			buf.WriteString("\n")
			continue
		}
		buf.WriteString(freeTextIndent + line + "\n")
	}
}

// Parse reads the on-disk form back into a Document and validates it.
// Unknown front-matter fields land in Extra; the derived manifest section
// is ignored. Returns *MalformedDocumentError for structural problems.
func Parse(data []byte) (*Document, error) {
	metaBytes, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	job := &models.Job{}
	if err := yaml.Unmarshal(metaBytes, job); err != nil {
		return nil, &MalformedDocumentError{Reason: "unparseable metadata: " + err.Error()}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(metaBytes, &raw); err != nil {
		return nil, &MalformedDocumentError{Reason: "unparseable metadata: " + err.Error()}
	}
	extra := map[string]any{}
	for k, v := range raw {
		if !knownMetaFields[k] {
			extra[k] = v
		}
	}

	doc := &Document{Job: job, Extra: extra}
	if err := parseBody(doc, body); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// splitFrontMatter separates the leading YAML block from the markdown body.
func splitFrontMatter(data []byte) (meta, body []byte, err error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterFence+"\n") {
		return nil, nil, &MalformedDocumentError{Reason: "missing metadata block"}
	}
	rest := text[len(frontMatterFence)+1:]
	end := strings.Index(rest, "\n"+frontMatterFence+"\n")
	if end < 0 {
		return nil, nil, &MalformedDocumentError{Reason: "unterminated metadata block"}
	}
	return []byte(rest[:end+1]), []byte(rest[end+len(frontMatterFence)+2:]), nil
}

// parseBody walks the markdown sections. Section and subsection headings
// are the only structure the parser relies on; free text is stored behind
// freeTextIndent and comes back verbatim with the indent stripped.
func parseBody(doc *Document, body []byte) error {
	var (
		section    string // current ## heading
		taskID     string // current ### Task id
		subsection string // current #### heading within a task
		text       strings.Builder
		inFence    bool
		fenceBody  strings.Builder
	)

	flushText := func() {
		content := strings.TrimRight(strings.TrimLeft(text.String(), "\n"), "\n")
		text.Reset()
		if content == "" {
			return
		}
		switch {
		case section == "Intent":
			doc.Job.Intent = content
		case section == "Synthesis":
			doc.Synthesis = content
		case taskID != "" && subsection == "Output":
			if t := doc.Job.Task(taskID); t != nil {
				t.Output = content
			}
		case taskID != "" && subsection == "Notes":
			if t := doc.Job.Task(taskID); t != nil {
				t.Notes = content
			}
		}
	}

	flushFence := func() error {
		content := fenceBody.String()
		fenceBody.Reset()
		switch {
		case section == "Shared Context":
			ctx := map[string]string{}
			if err := yaml.Unmarshal([]byte(content), &ctx); err != nil {
				return &MalformedDocumentError{Reason: "unparseable shared context: " + err.Error()}
			}
			if len(ctx) > 0 {
				doc.Job.SharedContext = ctx
			}
		case section == "Tasks" && taskID != "" && subsection == "":
			task := &models.Task{}
			if err := yaml.Unmarshal([]byte(content), task); err != nil {
				return &MalformedDocumentError{Reason: fmt.Sprintf("unparseable task %s: %s", taskID, err)}
			}
			if task.ID != taskID {
				return &MalformedDocumentError{Reason: fmt.Sprintf("task heading %s does not match header id %s", taskID, task.ID)}
			}
			doc.Job.Tasks = append(doc.Job.Tasks, task)
		}
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if inFence {
			if strings.HasPrefix(line, "```") {
				inFence = false
				if err := flushFence(); err != nil {
					return err
				}
			} else {
				fenceBody.WriteString(line + "\n")
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "```"):
			inFence = true
		case strings.HasPrefix(line, "## "):
			flushText()
			section = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			taskID = ""
			subsection = ""
		case strings.HasPrefix(line, "### Task "):
			flushText()
			taskID = strings.TrimSpace(strings.TrimPrefix(line, "### Task "))
			subsection = ""
		case strings.HasPrefix(line, "#### "):
			flushText()
			subsection = strings.TrimSpace(strings.TrimPrefix(line, "#### "))
		case section == "Event Log":
			if strings.TrimSpace(line) == "" {
				continue
			}
			m := eventLineRe.FindStringSubmatch(line)
			if m == nil {
				// The log is append-only; a line this package did not
				// write means the document was damaged.
				return &MalformedDocumentError{Reason: "unparseable event line: " + line}
			}
			at, err := time.Parse(time.RFC3339, m[1])
			if err != nil {
				return &MalformedDocumentError{Reason: "bad event timestamp: " + m[1]}
			}
			doc.Events = append(doc.Events, Event{At: at, Actor: m[2], Message: m[3]})
		case strings.HasPrefix(line, "# "):
			// Title line, derived from job id.
		default:
			text.WriteString(strings.TrimPrefix(line, freeTextIndent) + "\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return &MalformedDocumentError{Reason: "read body: " + err.Error()}
	}
	flushText()

	if inFence {
		return &MalformedDocumentError{Reason: "unterminated code fence"}
	}
	return nil
}
