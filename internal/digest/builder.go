// Package digest renders the run history as a standalone HTML page
package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"sort"
	"time"

	"github.com/ibeckermayer/postpilot/internal/store"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// Builder creates history digests from recorded runs
type Builder struct {
	maxRuns  int
	template *template.Template
	now      func() time.Time
}

// New creates a new digest builder
func New(maxRuns int) (*Builder, error) {
	tmpl, err := template.New("digest").Funcs(template.FuncMap{
		"base": filepath.Base,
	}).Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if maxRuns <= 0 {
		maxRuns = 50
	}

	return &Builder{
		maxRuns:  maxRuns,
		template: tmpl,
		now:      time.Now,
	}, nil
}

// Digest is a rendered history page
type Digest struct {
	Title     string
	HTMLBody  string
	PlainBody string
	RunIDs    []string
	CreatedAt time.Time
}

// DigestData is the template data structure
type DigestData struct {
	Title string
	Date  string
	Runs  []RunData
	Stats StatsData
}

// RunData represents one run in the digest template
type RunData struct {
	ID         string
	Platform   types.Platform
	Kind       string
	Success    bool
	Message    string
	Failure    string
	Attempts   int
	Started    string
	Duration   string
	Screenshot string
	Steps      []types.Step
}

// StatsData contains digest statistics
type StatsData struct {
	Total      int
	Succeeded  int
	Failed     int
	ByPlatform map[types.Platform]int
}

// Build creates a digest from runs, newest first
func (b *Builder) Build(runs []store.Run) (*Digest, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs to include in digest")
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > b.maxRuns {
		runs = runs[:b.maxRuns]
	}

	now := b.now()
	data := DigestData{
		Title: "postpilot run history",
		Date:  now.Format("Monday, January 2 15:04"),
		Runs:  make([]RunData, len(runs)),
		Stats: StatsData{Total: len(runs), ByPlatform: make(map[types.Platform]int)},
	}

	runIDs := make([]string, len(runs))
	for i, r := range runs {
		data.Runs[i] = RunData{
			ID:         r.ID,
			Platform:   r.Platform,
			Kind:       r.Kind,
			Success:    r.Success,
			Message:    truncate(r.Message, 280),
			Failure:    r.FailureKind,
			Attempts:   r.AttemptsUsed,
			Started:    r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			Duration:   r.FinishedAt.Sub(r.StartedAt).Round(100 * time.Millisecond).String(),
			Screenshot: r.ScreenshotPath,
			Steps:      r.Steps,
		}
		if r.Success {
			data.Stats.Succeeded++
		} else {
			data.Stats.Failed++
		}
		data.Stats.ByPlatform[r.Platform]++
		runIDs[i] = r.ID
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Digest{
		Title:     data.Title,
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		RunIDs:    runIDs,
		CreatedAt: now,
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func buildPlainText(data DigestData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s\n%d runs, %d succeeded, %d failed\n\n",
		data.Title, data.Date, data.Stats.Total, data.Stats.Succeeded, data.Stats.Failed)

	for i, r := range data.Runs {
		status := "OK"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&buf, "%d. [%s] %s %s %s: %s\n", i+1, status, r.Started, r.Kind, r.Platform, r.Message)
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 760px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #333; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 10px; }
        .stats { color: #666; margin-bottom: 20px; }
        .run { border-bottom: 1px solid #eee; padding: 15px 0; }
        .run:last-child { border-bottom: none; }
        .ok { color: #1a7f37; font-weight: bold; }
        .failed { color: #cf222e; font-weight: bold; }
        .meta { color: #666; font-size: 13px; }
        .message { margin: 8px 0; line-height: 1.4; }
        .steps { font-family: monospace; font-size: 12px; color: #444; margin: 5px 0 0 0; padding-left: 18px; }
        .steps .bad { color: #cf222e; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>
        <div class="stats">{{.Stats.Total}} runs · {{.Stats.Succeeded}} succeeded · {{.Stats.Failed}} failed</div>

        {{range .Runs}}
        <div class="run" id="{{.ID}}">
            <div>{{if .Success}}<span class="ok">OK</span>{{else}}<span class="failed">FAILED</span>{{end}} {{.Kind}} {{.Platform}}</div>
            <div class="meta">{{.Started}} · {{.Duration}} · {{.Attempts}} attempt(s){{if .Failure}} · {{.Failure}}{{end}}</div>
            <div class="message">{{.Message}}</div>
            {{if .Screenshot}}<a class="meta" href="file://{{.Screenshot}}">{{base .Screenshot}}</a>{{end}}
            {{if .Steps}}<ol class="steps">
                {{range .Steps}}<li{{if not .Success}} class="bad"{{end}}>{{.Name}}{{if .Error}}: {{.Error}}{{end}}</li>{{end}}
            </ol>{{end}}
        </div>
        {{end}}

        <div class="footer">
            Generated by postpilot · run ids are listed by <code>postpilot history</code>
        </div>
    </div>
</body>
</html>`
