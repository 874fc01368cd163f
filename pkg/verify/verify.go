// Package verify checks configuration and credentials without posting.
package verify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cpunion/quote-bot/pkg/config"
	"github.com/cpunion/quote-bot/pkg/generator"
	"github.com/cpunion/quote-bot/pkg/persona"
	"github.com/cpunion/quote-bot/pkg/publisher"
	"github.com/cpunion/quote-bot/pkg/textutil"
)

// Status is a check outcome.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Result is one check outcome.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// Report is the ordered list of results.
type Report struct {
	Results []Result `json:"results"`
}

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFail {
			return true
		}
	}
	return false
}

// Count returns how many checks ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Write prints one line per check and a summary line.
func (r *Report) Write(w io.Writer) error {
	for _, res := range r.Results {
		if _, err := fmt.Fprintf(w, "[%-4s] %-15s %s\n", strings.ToUpper(string(res.Status)), res.Name, res.Message); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed, %d skipped\n",
		r.Count(StatusPass), r.Count(StatusWarn), r.Count(StatusFail), r.Count(StatusSkip))
	return err
}

// Input carries everything the checks need. Nil clients mean the client could
// not be built; the matching check is skipped or failed.
type Input struct {
	Config     *config.Config
	Persona    *persona.Persona
	PersonaErr error
	LLM        generator.TextGenerator
	LLMErr     error
	Bluesky    publisher.Publisher
	Twitter    publisher.Publisher
	MaxLength  int
	SkipLive   bool
}

// Run executes the checks in order: env, persona, fallback, gemini,
// bluesky, twitter-config, twitter.
func Run(ctx context.Context, in Input) *Report {
	checks := []struct {
		name string
		fn   func(context.Context, Input) (Status, string)
	}{
		{"env", checkEnv},
		{"persona", checkPersona},
		{"fallback", checkFallback},
		{"gemini", checkGemini},
		{"bluesky", checkBluesky},
		{"twitter-config", checkTwitterConfig},
		{"twitter", checkTwitter},
	}

	report := &Report{}
	for _, c := range checks {
		start := time.Now()
		status, msg := c.fn(ctx, in)
		report.Results = append(report.Results, Result{
			Name:     c.name,
			Status:   status,
			Message:  msg,
			Duration: time.Since(start),
		})
	}
	return report
}

func checkEnv(_ context.Context, in Input) (Status, string) {
	if missing := in.Config.Missing(); len(missing) > 0 {
		return StatusFail, "missing " + strings.Join(missing, ", ")
	}
	return StatusPass, "required variables set"
}

func checkPersona(_ context.Context, in Input) (Status, string) {
	if in.PersonaErr != nil {
		return StatusFail, in.PersonaErr.Error()
	}
	if in.Persona == nil {
		return StatusFail, "no persona loaded"
	}
	prompt, err := in.Persona.RenderPrompt(in.MaxLength)
	if err != nil {
		return StatusFail, err.Error()
	}
	return StatusPass, fmt.Sprintf("%s, prompt %d characters", in.Persona.Name, textutil.Length(prompt))
}

func checkFallback(_ context.Context, in Input) (Status, string) {
	if in.Persona == nil || len(in.Persona.FallbackQuotes) == 0 {
		return StatusFail, "no fallback quotes"
	}
	var over []int
	for i, q := range in.Persona.FallbackQuotes {
		if textutil.Length(q) > in.MaxLength {
			over = append(over, i+1)
		}
	}
	if len(over) > 0 {
		return StatusWarn, fmt.Sprintf("%d quotes, %d over %d characters (entries %v) will be truncated",
			len(in.Persona.FallbackQuotes), len(over), in.MaxLength, over)
	}
	return StatusPass, fmt.Sprintf("%d quotes within %d characters", len(in.Persona.FallbackQuotes), in.MaxLength)
}

func checkGemini(ctx context.Context, in Input) (Status, string) {
	if in.SkipLive {
		return StatusSkip, "live checks disabled"
	}
	if in.LLMErr != nil {
		return StatusFail, in.LLMErr.Error()
	}
	if in.LLM == nil || in.Persona == nil {
		return StatusSkip, "no API key"
	}
	prompt, err := in.Persona.RenderPrompt(in.MaxLength)
	if err != nil {
		return StatusSkip, "persona unavailable"
	}
	text, err := in.LLM.Generate(ctx, prompt)
	if err != nil {
		return StatusFail, err.Error()
	}
	text = generator.Clean(text)
	n := textutil.Length(text)
	if n > in.MaxLength {
		return StatusWarn, fmt.Sprintf("%d characters, over the %d limit: %q", n, in.MaxLength, text)
	}
	return StatusPass, fmt.Sprintf("%d characters: %q", n, text)
}

func checkBluesky(ctx context.Context, in Input) (Status, string) {
	if in.SkipLive {
		return StatusSkip, "live checks disabled"
	}
	if in.Bluesky == nil {
		return StatusSkip, "credentials missing"
	}
	if err := in.Bluesky.Verify(ctx); err != nil {
		return StatusFail, err.Error()
	}
	return StatusPass, "logged in as " + in.Config.Bluesky.Handle
}

func checkTwitterConfig(_ context.Context, in Input) (Status, string) {
	t := in.Config.Twitter
	switch t.Status() {
	case config.TwitterConfigured:
		return StatusPass, string(config.TwitterConfigured)
	case config.TwitterPartial:
		msg := "partially configured, missing " + strings.Join(t.MissingVars(), ", ")
		if !t.CanPost() {
			msg += "; tweeting disabled"
		}
		return StatusWarn, msg
	default:
		return StatusSkip, "not configured (optional)"
	}
}

func checkTwitter(ctx context.Context, in Input) (Status, string) {
	if in.SkipLive {
		return StatusSkip, "live checks disabled"
	}
	if in.Twitter == nil {
		return StatusSkip, "posting credentials incomplete"
	}
	if err := in.Twitter.Verify(ctx); err != nil {
		return StatusFail, err.Error()
	}
	return StatusPass, "credentials accepted"
}
