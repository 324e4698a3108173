package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/journi/jobwatch/internal/models"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// printer renders command output in the format chosen with --output.
// JSON output is one document per line, YAML output is a document stream.
type printer struct {
	w      io.Writer
	format string
	yaml   *yaml.Encoder
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case formatText, formatJSON:
		return &printer{w: w, format: format}, nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return &printer{w: w, format: format, yaml: enc}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// value writes v as a structured document. Text output falls back to JSON.
func (p *printer) value(v any) error {
	if p.yaml != nil {
		return p.yaml.Encode(v)
	}
	return json.NewEncoder(p.w).Encode(v)
}

func (p *printer) flush() error {
	if p.yaml != nil {
		return p.yaml.Close()
	}
	return nil
}

func (p *printer) message(msg models.ProgressMessage) error {
	if p.format != formatText {
		return p.value(msg)
	}
	_, err := fmt.Fprintln(p.w, formatMessage(msg))
	return err
}

func (p *printer) messages(msgs []models.ProgressMessage) error {
	for _, msg := range msgs {
		if err := p.message(msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) jobs(jobs []*models.FollowedJob) error {
	if p.format != formatText {
		for _, job := range jobs {
			if err := p.value(job); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tMESSAGES\tLAST SEEN")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", job.JobID, job.LastStatus, job.MessageCount,
			job.LastSeen.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// formatMessage renders one update as a single human readable line.
func formatMessage(msg models.ProgressMessage) string {
	var b strings.Builder
	if msg.Timestamp != "" {
		b.WriteString(msg.Timestamp)
		b.WriteString("  ")
	}
	fmt.Fprintf(&b, "%-12s", msg.Status)

	switch msg.Status {
	case models.StatusFailed, models.StatusCancelled:
		if msg.Error != "" {
			b.WriteString("  ")
			b.WriteString(msg.Error)
		}
	case models.StatusDisconnected:
		b.WriteString("  connection lost, retrying")
	case models.StatusCompleted:
		if len(msg.Result) > 0 {
			fmt.Fprintf(&b, "  result: %d bytes", len(msg.Result))
		}
	}

	if p := msg.Progress; p != nil && msg.Status == models.StatusProcessing {
		fmt.Fprintf(&b, "  %d/%d %-10s %5.1f%%", p.CurrentStep, p.TotalSteps, p.StepName, p.Percentage)
		if p.Message != "" {
			b.WriteString("  ")
			b.WriteString(p.Message)
		}
		if p.EstimatedRemainingSeconds != nil {
			fmt.Fprintf(&b, " (~%.0fs left)", *p.EstimatedRemainingSeconds)
		}
	}
	return strings.TrimRight(b.String(), " ")
}
