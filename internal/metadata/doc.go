// Package metadata derives a best-effort product record from an arbitrary
// product page.
//
// The pipeline is fetch, parse, resolve and normalize. No single source on a
// page is authoritative, so every field is resolved by an ordered Chain of
// named strategies (Open Graph tags, vendor markup, JSON-LD, generic CSS
// heuristics) where the first non-empty value wins. Every failure along the way
// (transport errors, non-2xx responses, malformed HTML or JSON-LD, selector
// misses, unresolvable URLs) degrades to a missing field: Extractor.Extract has
// no error return.
package metadata
