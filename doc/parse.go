package doc

import (
	"encoding/json"
	"fmt"
	"os"
)

// wireOutcomeLevel mirrors OutcomeLevel's on-disk JSON shape.
type wireOutcomeLevel struct {
	PresentPattern string `json:"present_pattern"`
	ImmediateCost  string `json:"immediate_cost"`
	SystemEffect   string `json:"system_effect_30_90_day"`
	Signals        string `json:"signals"`
	EdgeCondition  string `json:"edge_condition"`
	ExampleMoves   string `json:"example_moves"`
	FutureEffect   string `json:"future_effect"`
}

func (w wireOutcomeLevel) toLevel() OutcomeLevel {
	return OutcomeLevel{
		PresentPattern: w.PresentPattern,
		ImmediateCost:  w.ImmediateCost,
		SystemEffect:   w.SystemEffect,
		Signals:        w.Signals,
		EdgeCondition:  w.EdgeCondition,
		ExampleMoves:   w.ExampleMoves,
		FutureEffect:   w.FutureEffect,
	}
}

type wireOutcomes struct {
	Poor         wireOutcomeLevel `json:"poor"`
	Expected     wireOutcomeLevel `json:"expected"`
	Excellent    wireOutcomeLevel `json:"excellent"`
	Transcendent wireOutcomeLevel `json:"transcendent"`
}

func (w wireOutcomes) toOutcomes() Outcomes {
	return Outcomes{
		Poor:         w.Poor.toLevel(),
		Expected:     w.Expected.toLevel(),
		Excellent:    w.Excellent.toLevel(),
		Transcendent: w.Transcendent.toLevel(),
	}
}

type wireTheme struct {
	Name             string       `json:"name"`
	Purpose          string       `json:"purpose"`
	WhyMatters       string       `json:"why_matters"`
	Outcomes         wireOutcomes `json:"outcomes"`
	GuidingQuestions []string     `json:"guiding_questions"`
}

type wireMetadata struct {
	Stones  []json.RawMessage `json:"stones"`
	Tags    []string          `json:"tags"`
	Fields  []string          `json:"fields"`
	Bridges []string          `json:"bridges"`
}

type wireProtocol struct {
	ProtocolID        string       `json:"protocol_id"`
	Title             string       `json:"title"`
	ShortTitle        string       `json:"short_title"`
	OverallPurpose    string       `json:"overall_purpose"`
	WhyMatters        string       `json:"why_matters"`
	WhenToUse         string       `json:"when_to_use"`
	OverallOutcomes   wireOutcomes `json:"overall_outcomes"`
	Themes            []wireTheme  `json:"themes"`
	CompletionPrompts []string     `json:"completion_prompts"`
	Metadata          wireMetadata `json:"metadata"`
}

// ParseFile reads and decodes a protocol JSON file into a Protocol tree.
// Stones may arrive as bare slug strings or {"slug","name"} objects; both
// shapes are normalised into the tagged Stone variant (spec.md §9).
func ParseFile(path string) (Protocol, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Protocol{}, fmt.Errorf("doc: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw protocol JSON bytes into a Protocol tree.
func Parse(raw []byte) (Protocol, error) {
	var w wireProtocol
	if err := json.Unmarshal(raw, &w); err != nil {
		return Protocol{}, fmt.Errorf("doc: decoding protocol: %w", err)
	}

	themes := make([]Theme, len(w.Themes))
	for i, wt := range w.Themes {
		themes[i] = Theme{
			Name:             wt.Name,
			Purpose:          wt.Purpose,
			WhyMatters:       wt.WhyMatters,
			Outcomes:         wt.Outcomes.toOutcomes(),
			GuidingQuestions: wt.GuidingQuestions,
		}
	}

	stones := make([]Stone, 0, len(w.Metadata.Stones))
	for _, raw := range w.Metadata.Stones {
		stones = append(stones, parseStone(raw))
	}

	return Protocol{
		ProtocolID:        w.ProtocolID,
		Title:             w.Title,
		ShortTitle:        w.ShortTitle,
		OverallPurpose:    w.OverallPurpose,
		WhyMatters:        w.WhyMatters,
		WhenToUse:         w.WhenToUse,
		OverallOutcomes:   w.OverallOutcomes.toOutcomes(),
		Themes:            themes,
		CompletionPrompts: w.CompletionPrompts,
		Metadata: Metadata{
			Stones:  stones,
			Tags:    w.Metadata.Tags,
			Fields:  w.Metadata.Fields,
			Bridges: w.Metadata.Bridges,
		},
	}, nil
}

// parseStone normalises a raw JSON stone entry — either a bare string or
// a {"slug": "...", "name": "..."} object — into the tagged Stone variant.
func parseStone(raw json.RawMessage) Stone {
	var slug string
	if err := json.Unmarshal(raw, &slug); err == nil {
		return NewStoneSlug(slug)
	}

	var named struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err == nil {
		return NewStoneNamed(named.Slug, named.Name)
	}

	return Stone{}
}
