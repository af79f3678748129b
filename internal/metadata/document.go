package metadata

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed HTML page queryable by CSS selector.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from raw HTML. Malformed markup degrades to a
// best-effort tree the way browsers do; Parse never fails.
func Parse(body []byte) *Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return &Document{doc: goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})}
	}
	return &Document{doc: doc}
}

// Select returns every element matching selector in document order. Misses and
// invalid selectors yield an empty selection.
func (d *Document) Select(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Attr returns the named attribute of the first element matching selector.
func (d *Document) Attr(selector, name string) string {
	val, _ := d.Select(selector).Attr(name)
	return val
}

// Text returns the combined text of every element matching selector.
func (d *Document) Text(selector string) string {
	return d.Select(selector).Text()
}

// FirstText returns the text of the first element matching selector.
func (d *Document) FirstText(selector string) string {
	return d.Select(selector).First().Text()
}
