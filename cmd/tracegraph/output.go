// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/tracegraph/services/trace/cascade"
	"github.com/AleutianAI/tracegraph/services/trace/confidence"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
)

// printer renders command results as JSON or styled text.
type printer struct {
	w      io.Writer
	json   bool
	title  lipgloss.Style
	label  lipgloss.Style
	dim    lipgloss.Style
	render *lipgloss.Renderer
}

func newPrinter(w io.Writer, format string) *printer {
	asJSON := format == formatJSON || (format == formatAuto && !isTerminal(w))
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:      w,
		json:   asJSON,
		render: r,
		title:  r.NewStyle().Bold(true),
		label:  r.NewStyle().Foreground(lipgloss.Color("244")),
		dim:    r.NewStyle().Faint(true),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) riskStyle(level cascade.RiskLevel) lipgloss.Style {
	s := p.render.NewStyle().Bold(true)
	switch level {
	case cascade.RiskCritical:
		return s.Foreground(lipgloss.Color("196"))
	case cascade.RiskHigh:
		return s.Foreground(lipgloss.Color("208"))
	case cascade.RiskMedium:
		return s.Foreground(lipgloss.Color("220"))
	default:
		return s.Foreground(lipgloss.Color("42"))
	}
}

func (p *printer) Result(r *cascade.Result) error {
	if p.json {
		return p.writeJSON(r)
	}
	types := make([]string, len(r.TargetTypes))
	for i, t := range r.TargetTypes {
		types[i] = string(t)
	}
	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf("Cascade: %s (%s)", r.TargetID, strings.Join(types, ", "))))
	p.summaryLine(r.RiskLevel, r.DirectCount, r.TotalImpact, r.MaxDepthReached, r.Steps)
	p.confidenceLine(r.Confidence)
	p.impacts(r.Affected)
	return nil
}

func (p *printer) Aggregate(agg *cascade.Aggregate) error {
	if p.json {
		return p.writeJSON(agg)
	}
	fmt.Fprintln(p.w, p.title.Render("Cascade: "+strings.Join(agg.Targets, ", ")))
	direct := 0
	for _, r := range agg.Results {
		direct += r.DirectCount
	}
	p.summaryLine(agg.RiskLevel, direct, agg.TotalImpact, agg.MaxDepthReached, agg.Steps)
	p.confidenceLine(agg.Confidence)
	p.impacts(agg.Affected)
	return nil
}

func (p *printer) summaryLine(risk cascade.RiskLevel, direct, total, depth, steps int) {
	fmt.Fprintf(p.w, "%s %s  %s %d  %s %d  %s %d  %s %d\n",
		p.label.Render("risk"), p.riskStyle(risk).Render(string(risk)),
		p.label.Render("direct"), direct,
		p.label.Render("total"), total,
		p.label.Render("max depth"), depth,
		p.label.Render("steps"), steps,
	)
}

func (p *printer) confidenceLine(s confidence.Summary) {
	if s.Count == 0 {
		return
	}
	fmt.Fprintf(p.w, "%s min %.2f  mean %.2f\n", p.label.Render("confidence"), s.Min, s.Mean)
}

func (p *printer) impacts(affected []cascade.Impact) {
	if len(affected) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("no affected entities"))
		return
	}
	fmt.Fprintln(p.w)
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPTH\tID\tTYPE\tVIA\tCONFIDENCE\tBAND\tPATH")
	for _, imp := range affected {
		typ := string(imp.Type)
		if !imp.Observed {
			typ = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			imp.Depth, imp.ID, typ, imp.Via, imp.Confidence, imp.Band, strings.Join(imp.Path, " <- "))
	}
	_ = tw.Flush()
}

// confidenceReport is the confidence command output.
type confidenceReport struct {
	ID   string      `json:"id"`
	Type entity.Type `json:"type"`
	At   time.Time   `json:"at"`
	confidence.Assessment
}

func (p *printer) Confidence(r confidenceReport) error {
	if p.json {
		return p.writeJSON(r)
	}
	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf("Confidence: %s (%s)", r.ID, r.Type)))
	fmt.Fprintf(p.w, "%s %.3f  %s %s  %s %s  %s %.3f/s\n",
		p.label.Render("score"), r.Confidence,
		p.label.Render("band"), r.Band,
		p.label.Render("age"), r.Age.Round(time.Millisecond),
		p.label.Render("velocity"), r.Velocity,
	)
	return nil
}

// historyReport is the history command output.
type historyReport struct {
	ID       string          `json:"id"`
	Type     entity.Type     `json:"type"`
	Source   string          `json:"source"`
	Versions []entity.Entity `json:"versions"`
}

func (p *printer) History(r historyReport) error {
	if p.json {
		return p.writeJSON(r)
	}
	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf("History: %s (%s)", r.ID, r.Type)),
		p.dim.Render("from "+r.Source))
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCAPTURED\tOBSERVED\tSTATE\tATTRIBUTES")
	for _, v := range r.Versions {
		state := "live"
		if v.Tombstoned {
			state = "removed"
		}
		attrs, _ := json.Marshal(v.Attributes)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			v.Version, v.CapturedAt.Format(time.RFC3339Nano), v.ObservedAt.Format(time.RFC3339Nano), state, attrs)
	}
	return tw.Flush()
}

func (p *printer) Events(events []entity.Event) error {
	if p.json {
		if events == nil {
			events = []entity.Event{}
		}
		return p.writeJSON(events)
	}
	if len(events) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("no events"))
		return nil
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tTARGET\tVERSION\tID\tTRIGGERED BY")
	for _, ev := range events {
		cause := ev.TriggeredBy
		if cause == "" {
			cause = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			ev.Timestamp.Format(time.RFC3339Nano), ev.Type, ev.Target(), ev.Version, ev.ID, cause)
	}
	return tw.Flush()
}

// statsReport is the stats command output.
type statsReport struct {
	entity.Stats
	Journaled *uint64 `json:"journaled,omitempty"`
}

func (p *printer) Stats(r statsReport) error {
	if p.json {
		return p.writeJSON(r)
	}
	fmt.Fprintf(p.w, "%s %d (%d live)  %s %d  %s %d  %s %d\n",
		p.label.Render("identities"), r.Identities, r.Live,
		p.label.Render("versions"), r.Versions,
		p.label.Render("events"), r.Events,
		p.label.Render("edges"), r.Edges,
	)
	if r.Journaled != nil {
		fmt.Fprintf(p.w, "%s %d\n", p.label.Render("journaled"), *r.Journaled)
	}
	return nil
}
