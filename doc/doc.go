// Package doc defines the Protocol document model: the typed tree a
// source JSON file is parsed into, and the deterministic derivation of
// a protocol's stable identifier.
package doc

// OutcomeLevel captures one of the four outcome bands (poor, expected,
// excellent, transcendent) for a Theme.
type OutcomeLevel struct {
	PresentPattern  string
	ImmediateCost   string
	SystemEffect    string // 30-90 day system effect
	Signals         string
	EdgeCondition   string
	ExampleMoves    string
	FutureEffect    string
}

// Outcomes bundles the four outcome bands shared by both the top-level
// Protocol and each Theme.
type Outcomes struct {
	Poor         OutcomeLevel
	Expected     OutcomeLevel
	Excellent    OutcomeLevel
	Transcendent OutcomeLevel
}

// Theme is a named sub-section of a Protocol.
type Theme struct {
	Name             string
	Purpose          string
	WhyMatters       string
	Outcomes         Outcomes
	GuidingQuestions []string
}

// Metadata carries protocol-level tags used by the router and grounding
// checks. Stones is the set of principle slugs (spec.md §3, §9's tagged
// Stone variant — see Stone below).
type Metadata struct {
	Stones  []Stone
	Tags    []string
	Fields  []string
	Bridges []string
}

// Protocol is the top-level document, immutable after load.
type Protocol struct {
	ProtocolID         string // explicit "Protocol ID" field, if present
	Title              string
	ShortTitle         string
	OverallPurpose     string
	WhyMatters         string
	WhenToUse          string
	OverallOutcomes    Outcomes
	Themes             []Theme
	CompletionPrompts  []string
	Metadata           Metadata
}

// StoneKind distinguishes the two shapes a Stone can arrive in, resolving
// the source's getattr/hasattr duck-typing per spec.md §9.
type StoneKind int

const (
	// StoneSlug is a bare slug string, e.g. "stewardship".
	StoneSlug StoneKind = iota
	// StoneNamed carries both a slug and a human-readable name.
	StoneNamed
)

// Stone is a tagged variant: either a bare slug or a {slug, name} pair.
// Use NewStoneSlug/NewStoneNamed to construct one and Normalize to read
// its slug regardless of which shape it came from.
type Stone struct {
	Kind StoneKind
	Slug string
	Name string
}

// NewStoneSlug builds a bare-slug Stone.
func NewStoneSlug(slug string) Stone {
	return Stone{Kind: StoneSlug, Slug: slug}
}

// NewStoneNamed builds a {slug, name} Stone.
func NewStoneNamed(slug, name string) Stone {
	return Stone{Kind: StoneNamed, Slug: slug, Name: name}
}

// Normalize returns the canonical slug for a Stone regardless of Kind.
func (s Stone) Normalize() string {
	return s.Slug
}

// Section is one entry in the ordered, deterministic section sequence a
// Protocol is flattened into (spec.md §3).
type Section struct {
	Name string
	Body string
}
