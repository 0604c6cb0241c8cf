package doc

import (
	"fmt"
	"strings"
)

// Sections flattens a Protocol into the deterministic, ordered section
// sequence described in spec.md §3: Title, Short Title, Overall Purpose,
// Why This Matters, When To Use, Overall Outcomes, Theme 1..N, Completion
// Prompts, then optional Stones and Tags. It is a pure function of p: no
// hidden state, no I/O.
func Sections(p Protocol) []Section {
	var sections []Section

	add := func(name, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		sections = append(sections, Section{Name: name, Body: body})
	}

	add("Title", p.Title)
	add("Short Title", p.ShortTitle)
	add("Overall Purpose", p.OverallPurpose)
	add("Why This Matters", p.WhyMatters)
	add("When To Use", p.WhenToUse)
	add("Overall Outcomes", formatOutcomes(p.OverallOutcomes))

	for i, th := range p.Themes {
		name := fmt.Sprintf("Theme %d: %s", i+1, th.Name)
		add(name, formatTheme(th))
	}

	add("Completion Prompts", formatList(p.CompletionPrompts))

	if len(p.Metadata.Stones) > 0 {
		slugs := make([]string, len(p.Metadata.Stones))
		for i, s := range p.Metadata.Stones {
			slugs[i] = s.Normalize()
		}
		add("Stones", strings.Join(slugs, ", "))
	}
	if len(p.Metadata.Tags) > 0 {
		add("Tags", strings.Join(p.Metadata.Tags, ", "))
	}

	return sections
}

func formatOutcomes(o Outcomes) string {
	var b strings.Builder
	writeLevel := func(label string, lv OutcomeLevel) {
		if isEmptyLevel(lv) {
			return
		}
		fmt.Fprintf(&b, "%s:\n", label)
		fmt.Fprintf(&b, "  Present pattern: %s\n", lv.PresentPattern)
		fmt.Fprintf(&b, "  Immediate cost: %s\n", lv.ImmediateCost)
		fmt.Fprintf(&b, "  30-90 day system effect: %s\n", lv.SystemEffect)
		fmt.Fprintf(&b, "  Signals: %s\n", lv.Signals)
		fmt.Fprintf(&b, "  Edge condition: %s\n", lv.EdgeCondition)
		fmt.Fprintf(&b, "  Example moves: %s\n", lv.ExampleMoves)
		fmt.Fprintf(&b, "  Future effect: %s\n", lv.FutureEffect)
	}
	writeLevel("Poor", o.Poor)
	writeLevel("Expected", o.Expected)
	writeLevel("Excellent", o.Excellent)
	writeLevel("Transcendent", o.Transcendent)
	return strings.TrimSpace(b.String())
}

func formatTheme(th Theme) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Purpose: %s\n", th.Purpose)
	fmt.Fprintf(&b, "Why this matters: %s\n\n", th.WhyMatters)
	b.WriteString(formatOutcomes(th.Outcomes))
	if len(th.GuidingQuestions) > 0 {
		b.WriteString("\n\nGuiding questions:\n")
		for _, q := range th.GuidingQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return strings.TrimSpace(b.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	return strings.TrimSpace(b.String())
}

func isEmptyLevel(lv OutcomeLevel) bool {
	return lv.PresentPattern == "" && lv.ImmediateCost == "" && lv.SystemEffect == "" &&
		lv.Signals == "" && lv.EdgeCondition == "" && lv.ExampleMoves == "" && lv.FutureEffect == ""
}
