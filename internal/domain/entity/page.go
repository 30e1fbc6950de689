package entity

// UIElement is one interactive element in the page inventory shown to
// the model.
type UIElement struct {
	ID        string
	Type      string
	Text      string
	AriaLabel string
	Role      string
	Selector  string
}

// Observation is the summarized browser state the model decides from:
// enough to pick the next action without re-deriving everything from a
// raw screenshot.
type Observation struct {
	URL      string
	Title    string
	Text     string
	Elements []UIElement
}

func (o Observation) copy() Observation {
	cp := o
	cp.Elements = make([]UIElement, len(o.Elements))
	copy(cp.Elements, o.Elements)
	return cp
}

type Screenshot struct {
	Data   []byte
	Format string
	Width  int
	Height int
}
