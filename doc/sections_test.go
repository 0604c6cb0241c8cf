package doc

import "testing"

func TestSectionsOrderAndNaming(t *testing.T) {
	p := Protocol{
		Title:          "Clean Edges",
		ShortTitle:     "Edges",
		OverallPurpose: "Keep boundaries clear.",
		WhyMatters:     "Boundaries prevent burnout.",
		WhenToUse:      "When scope creeps.",
		OverallOutcomes: Outcomes{
			Expected: OutcomeLevel{PresentPattern: "steady pace"},
		},
		Themes: []Theme{
			{Name: "Pace", Purpose: "Set a sustainable pace."},
			{Name: "Focus", Purpose: "Narrow the scope."},
		},
		CompletionPrompts: []string{"What changed?"},
	}

	sections := Sections(p)

	wantNames := []string{
		"Title", "Short Title", "Overall Purpose", "Why This Matters",
		"When To Use", "Overall Outcomes", "Theme 1: Pace", "Theme 2: Focus",
		"Completion Prompts",
	}
	if len(sections) != len(wantNames) {
		t.Fatalf("got %d sections, want %d: %v", len(sections), len(wantNames), sections)
	}
	for i, name := range wantNames {
		if sections[i].Name != name {
			t.Errorf("section %d name = %q, want %q", i, sections[i].Name, name)
		}
	}
}

func TestSectionsSkipsEmptyCompletionPrompts(t *testing.T) {
	p := Protocol{Title: "Minimal"}
	sections := Sections(p)

	for _, s := range sections {
		if s.Name == "Completion Prompts" {
			t.Error("expected no Completion Prompts section when CompletionPrompts is empty")
		}
	}
}

func TestSectionsIsPureFunction(t *testing.T) {
	p := Protocol{Title: "Repeatable", OverallPurpose: "Same input, same output."}

	first := Sections(p)
	second := Sections(p)

	if len(first) != len(second) {
		t.Fatalf("section count differs across calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("section %d differs across calls: %+v vs %+v", i, first[i], second[i])
		}
	}
}
