package metadata

import "strings"

// Strategy is one named source for a field value. Resolve must be side-effect
// free and return "" when its source has nothing to offer.
type Strategy struct {
	Name    string
	Resolve func(doc *Document, sd *StructuredCandidate) string
}

// Chain is an ordered fallback list. The first strategy that yields a
// non-empty value wins; later strategies are not evaluated.
type Chain []Strategy

// Resolve returns the winning value and the name of the strategy that produced
// it, or two empty strings when every strategy misses.
func (c Chain) Resolve(doc *Document, sd *StructuredCandidate) (string, string) {
	for _, s := range c {
		if v := s.Resolve(doc, sd); v != "" {
			return v, s.Name
		}
	}
	return "", ""
}

// Names lists the strategy names in priority order.
func (c Chain) Names() []string {
	names := make([]string, 0, len(c))
	for _, s := range c {
		names = append(names, s.Name)
	}
	return names
}

func attrStrategy(name, selector, attr string) Strategy {
	return Strategy{
		Name: name,
		Resolve: func(doc *Document, _ *StructuredCandidate) string {
			return doc.Attr(selector, attr)
		},
	}
}

func textStrategy(name, selector string) Strategy {
	return Strategy{
		Name: name,
		Resolve: func(doc *Document, _ *StructuredCandidate) string {
			return doc.Text(selector)
		},
	}
}

func trimmedTextStrategy(name, selector string) Strategy {
	return Strategy{
		Name: name,
		Resolve: func(doc *Document, _ *StructuredCandidate) string {
			return strings.TrimSpace(doc.Text(selector))
		},
	}
}
