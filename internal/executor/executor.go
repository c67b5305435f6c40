package executor

import "context"

// Executor renders report artifacts from a job specification. Implementations
// run arbitrary report logic (built-in renderers, template engines, external
// converters) behind a uniform contract.
type Executor interface {
	// Render produces the job's artifacts. The context carries the job's
	// cancellation and timeout signal; implementations must stop promptly
	// once it is done and may return ctx.Err(). Partial results from an
	// interrupted render are discarded by the caller.
	Render(ctx context.Context, spec Spec) ([]File, error)

	// Capabilities reports what this renderer supports.
	Capabilities() Capabilities
}

// Spec describes one report job to be rendered.
type Spec struct {
	JobID         string         `json:"job_id"`
	Name          string         `json:"name"`
	DefinitionURI string         `json:"definition_uri"`
	Arguments     map[string]any `json:"arguments,omitempty"`

	// Progress is an optional callback reporting percent complete (0-100)
	// and a short stage message. Implementations call it best-effort; calls
	// after the job settles are dropped upstream.
	Progress func(percent int, message string) `json:"-"`
}

// ReportProgress invokes the progress callback if one is set.
func (s Spec) ReportProgress(percent int, message string) {
	if s.Progress != nil {
		s.Progress(percent, message)
	}
}

// File is one rendered artifact. ContentType is optional; when empty the
// file store derives it from the filename extension.
type File struct {
	Filename    string `json:"filename"`
	Data        []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`
}

// Capabilities describes what a renderer supports.
type Capabilities struct {
	Name    string   `json:"name"`
	Formats []string `json:"formats"`
}
