// Package render implements the built-in tabular report renderer, registered
// under the builtin:// scheme. It produces a deterministic periodic summary
// (seeded pseudo-random figures) as CSV and HTML artifacts, so a fresh
// deployment can execute real jobs without any external report definitions.
package render

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"html/template"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/finworks/reportd/internal/executor"
)

// maxRows caps the dataset size a single job may request.
const maxRows = 100_000

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<table border="1">
<tr><th>Period</th><th>Revenue</th><th>Expenses</th><th>Net</th></tr>
{{range .Rows}}<tr><td>{{.Period}}</td><td>{{printf "%.2f" .Revenue}}</td><td>{{printf "%.2f" .Expenses}}</td><td>{{printf "%.2f" .Net}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type row struct {
	Period   string
	Revenue  float64
	Expenses float64
	Net      float64
}

type report struct {
	Title string
	Rows  []row
}

// Executor renders the built-in report kinds.
type Executor struct{}

// New returns the built-in renderer.
func New() *Executor {
	return &Executor{}
}

// Capabilities reports the renderer's supported formats.
func (e *Executor) Capabilities() executor.Capabilities {
	return executor.Capabilities{Name: "tabular", Formats: []string{"csv", "html"}}
}

// Render produces the report artifacts. Supported arguments:
//
//	title    string  report heading (defaults to the job name)
//	rows     number  dataset size, 1 to 100000 (default 12)
//	seed     number  PRNG seed; the same seed yields the same figures
//	formats  list    subset of ["csv", "html"] (default both)
//	delay_ms number  artificial pause per stage, for exercising cancellation
func (e *Executor) Render(ctx context.Context, spec executor.Spec) ([]executor.File, error) {
	kind, err := reportKind(spec.DefinitionURI)
	if err != nil {
		return nil, err
	}
	if kind != "tabular" {
		return nil, fmt.Errorf("unknown built-in report %q", kind)
	}

	title := strArg(spec.Arguments, "title", spec.Name)
	rows := intArg(spec.Arguments, "rows", 12)
	if rows < 1 || rows > maxRows {
		return nil, fmt.Errorf("rows must be between 1 and %d, got %d", maxRows, rows)
	}
	seed := int64(intArg(spec.Arguments, "seed", 42))
	formats, err := formatsArg(spec.Arguments)
	if err != nil {
		return nil, err
	}
	delay := time.Duration(intArg(spec.Arguments, "delay_ms", 0)) * time.Millisecond

	spec.ReportProgress(10, "building dataset")
	if err := pause(ctx, delay); err != nil {
		return nil, err
	}
	rep := buildReport(title, rows, seed)

	var files []executor.File
	stage := 40
	for _, format := range formats {
		spec.ReportProgress(stage, "rendering "+format)
		stage += 30
		if err := pause(ctx, delay); err != nil {
			return nil, err
		}

		var f executor.File
		switch format {
		case "csv":
			f, err = renderCSV(rep)
		case "html":
			f, err = renderHTML(rep)
		}
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	spec.ReportProgress(95, "finishing")
	return files, nil
}

// reportKind extracts the report kind from a builtin:// definition URI.
func reportKind(uri string) (string, error) {
	_, kind, found := strings.Cut(uri, "://")
	if !found || kind == "" {
		return "", fmt.Errorf("definition uri %q names no report kind", uri)
	}
	return kind, nil
}

// buildReport generates the deterministic dataset: monthly periods with
// seeded pseudo-random revenue and expense figures.
func buildReport(title string, rows int, seed int64) report {
	rng := rand.New(rand.NewSource(seed))
	period := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	rep := report{Title: title, Rows: make([]row, 0, rows)}
	for i := 0; i < rows; i++ {
		revenue := cents(50_000 + rng.Float64()*150_000)
		expenses := cents(30_000 + rng.Float64()*100_000)
		rep.Rows = append(rep.Rows, row{
			Period:   period.Format("2006-01"),
			Revenue:  revenue,
			Expenses: expenses,
			Net:      cents(revenue - expenses),
		})
		period = period.AddDate(0, 1, 0)
	}
	return rep
}

func renderCSV(rep report) (executor.File, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := [][]string{{"period", "revenue", "expenses", "net"}}
	for _, r := range rep.Rows {
		records = append(records, []string{
			r.Period,
			strconv.FormatFloat(r.Revenue, 'f', 2, 64),
			strconv.FormatFloat(r.Expenses, 'f', 2, 64),
			strconv.FormatFloat(r.Net, 'f', 2, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return executor.File{}, fmt.Errorf("render csv: %w", err)
	}
	return executor.File{Filename: "report.csv", Data: buf.Bytes()}, nil
}

func renderHTML(rep report) (executor.File, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, rep); err != nil {
		return executor.File{}, fmt.Errorf("render html: %w", err)
	}
	return executor.File{Filename: "report.html", Data: buf.Bytes()}, nil
}

// pause sleeps for d while honoring cancellation. A zero delay only polls the
// context, which keeps every stage boundary a cancellation point.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func cents(v float64) float64 {
	return float64(int64(v*100)) / 100
}

func strArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intArg reads a numeric argument. JSON decoding yields float64 for all
// numbers, so both are accepted.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func formatsArg(args map[string]any) ([]string, error) {
	raw, ok := args["formats"]
	if !ok {
		return []string{"csv", "html"}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("formats must be a list")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("formats must not be empty")
	}

	var formats []string
	for _, item := range list {
		f, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("formats must be a list of strings")
		}
		switch f {
		case "csv", "html":
			formats = append(formats, f)
		default:
			return nil, fmt.Errorf("unsupported format %q", f)
		}
	}
	return formats, nil
}
