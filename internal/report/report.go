// Package report turns matrix results into a run report a person can read:
// Markdown for terminals and PR comments, a standalone HTML page, and JSON
// for tooling.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/uimatrix/internal/artifacts"
	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/matrix"
)

// Status of a scenario in the report.
const (
	StatusPassed      = "passed"
	StatusFailed      = "failed"
	StatusSetupFailed = "setup_failed"
)

// Summary is a whole run.
type Summary struct {
	RunID     string    `json:"run_id"`
	Generated time.Time `json:"generated"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Groups    []Group   `json:"groups"`
}

// Group is one matrix.
type Group struct {
	Name       string     `json:"name"`
	DurationMS int64      `json:"duration_ms"`
	Scenarios  []Scenario `json:"scenarios"`
}

// Scenario is one scenario group's outcome.
type Scenario struct {
	Label       string `json:"label"`
	Status      string `json:"status"`
	FailedStep  string `json:"failed_step,omitempty"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
	TeardownErr string `json:"teardown_error,omitempty"`
	FinalState  string `json:"final_state"`
	DurationMS  int64  `json:"duration_ms"`
	Steps       []Step `json:"steps"`
}

// Step is one step's outcome.
type Step struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// FromMatrix summarizes reports, one group each, in the given order.
func FromMatrix(runID string, reports ...matrix.Report) Summary {
	s := Summary{RunID: runID, Generated: time.Now().UTC(), Groups: make([]Group, 0, len(reports))}
	for _, rep := range reports {
		g := Group{Name: rep.Group, DurationMS: rep.Duration.Milliseconds()}
		if g.Name == "" {
			g.Name = "matrix"
		}
		for _, res := range rep.Scenarios {
			sc := fromResult(res)
			if sc.Status == StatusPassed {
				s.Passed++
			} else {
				s.Failed++
			}
			g.Scenarios = append(g.Scenarios, sc)
		}
		s.Groups = append(s.Groups, g)
	}
	return s
}

func fromResult(res matrix.ScenarioResult) Scenario {
	sc := Scenario{
		Label:      res.Label,
		Status:     StatusPassed,
		FailedStep: res.FailedStep,
		FinalState: string(res.Final()),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		sc.Status = StatusFailed
		if res.Visited(matrix.StateSetupFailed) {
			sc.Status = StatusSetupFailed
		}
		sc.Code = string(errs.CodeOf(res.Err))
		sc.Error = res.Err.Error()
	}
	if res.TeardownErr != nil {
		sc.TeardownErr = res.TeardownErr.Error()
	}
	for _, st := range res.Steps {
		step := Step{Name: st.Name, Status: string(st.Status), DurationMS: st.Duration.Milliseconds()}
		if st.Err != nil {
			step.Error = st.Err.Error()
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc
}

// OK reports whether nothing failed.
func (s Summary) OK() bool { return s.Failed == 0 }

// Markdown renders the summary.
func (s Summary) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", s.RunID)
	fmt.Fprintf(&b, "**%d passed, %d failed** across %d groups.\n\n", s.Passed, s.Failed, len(s.Groups))

	for _, g := range s.Groups {
		fmt.Fprintf(&b, "## %s\n\n", g.Name)
		if len(g.Scenarios) == 0 {
			b.WriteString("_No scenarios._\n\n")
			continue
		}
		b.WriteString("| Scenario | Result | Failed step | Error |\n|---|---|---|---|\n")
		for _, sc := range g.Scenarios {
			errText := sc.Error
			if sc.Code != "" {
				errText = sc.Code + ": " + errText
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(sc.Label), sc.Status, cell(sc.FailedStep), cell(errText))
		}
		b.WriteString("\n")

		for _, sc := range g.Scenarios {
			if sc.Status == StatusPassed {
				continue
			}
			fmt.Fprintf(&b, "### %s\n\n", inline(sc.Label))
			for _, st := range sc.Steps {
				mark := " "
				if st.Status == string(matrix.StepPassed) {
					mark = "x"
				}
				line := fmt.Sprintf("- [%s] %s", mark, inline(st.Name))
				switch st.Status {
				case string(matrix.StepFailed):
					line += ": " + inline(st.Error)
				case string(matrix.StepSkipped):
					line += " _(skipped)_"
				}
				b.WriteString(line + "\n")
			}
			if sc.TeardownErr != "" {
				fmt.Fprintf(&b, "\nTeardown: %s\n", inline(sc.TeardownErr))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func inline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", `\|`)
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Run {{.RunID}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:64rem;margin:2rem auto;padding:0 1rem}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem}
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML renders the summary as a standalone page. Error text comes from the
// application under test, so the rendered Markdown is sanitized.
func (s Summary) HTML() ([]byte, error) {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(s.Markdown()))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	body := bluemonday.UGCPolicy().SanitizeBytes(markdown.Render(doc, renderer))

	var buf bytes.Buffer
	if err := page.Execute(&buf, struct {
		RunID string
		Body  template.HTML
	}{RunID: s.RunID, Body: template.HTML(body)}); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON writes the summary as indented JSON.
func (s Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// ReadJSON loads a summary written by WriteJSON.
func ReadJSON(r io.Reader) (Summary, error) {
	var s Summary
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Summary{}, fmt.Errorf("decode report: %w", err)
	}
	return s, nil
}

// Publish stores the summary as report.json, report.md and report.html under
// the run's key prefix and returns the keys written.
func (s Summary) Publish(ctx context.Context, store artifacts.Store) ([]string, error) {
	var js bytes.Buffer
	if err := s.WriteJSON(&js); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	rendered, err := s.HTML()
	if err != nil {
		return nil, err
	}
	files := []struct {
		name, contentType string
		content           []byte
	}{
		{"report.json", "application/json", js.Bytes()},
		{"report.md", "text/markdown; charset=utf-8", []byte(s.Markdown())},
		{"report.html", "text/html; charset=utf-8", rendered},
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := artifacts.RunKey(s.RunID, f.name)
		if err := store.Put(ctx, key, f.content, f.contentType); err != nil {
			return keys, fmt.Errorf("publish %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Collector gathers matrix reports from concurrently running tests.
type Collector struct {
	mu      sync.Mutex
	reports []matrix.Report
}

// Add records reports in arrival order.
func (c *Collector) Add(reports ...matrix.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, reports...)
}

// Len is the number of reports recorded.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

// Summary summarizes everything recorded so far.
func (c *Collector) Summary(runID string) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FromMatrix(runID, c.reports...)
}
