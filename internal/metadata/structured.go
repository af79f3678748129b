package metadata

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

const (
	jsonLDSelector = `script[type="application/ld+json"]`

	ldTypeProduct  = "Product"
	ldTypeItemPage = "ItemPage"
)

// StructuredCandidate holds the image and price read from a JSON-LD product node.
type StructuredCandidate struct {
	Image string
	Price string
}

// ldObject is a decoded JSON-LD object. Members are looked up by their exact
// name; encoding/json struct tags would also accept "IMAGE" or "Price".
type ldObject map[string]json.RawMessage

// ldNode is a schema.org Product or ItemPage node. Its image and offers members
// stay raw because sites publish them in several shapes.
type ldNode struct {
	members ldObject
}

func decodeObject(raw []byte) (ldObject, bool) {
	var obj ldObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// scalarValue coerces a JSON string or number to text. Zero, empty strings and
// any other JSON kind yield "".
func scalarValue(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil && num != 0 {
		return strconv.FormatFloat(num, 'f', -1, 64)
	}
	return ""
}

// ExtractStructured scans the JSON-LD blocks of doc in document order and
// returns the candidate from the first Product or ItemPage node. Blocks that
// fail to parse are skipped. maxBlocks bounds the scan; zero means unbounded.
// It returns nil when no block qualifies.
func ExtractStructured(doc *Document, maxBlocks int) *StructuredCandidate {
	var found *StructuredCandidate
	doc.Select(jsonLDSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if maxBlocks > 0 && i >= maxBlocks {
			return false
		}
		node, ok := decodeProductNode([]byte(s.Text()))
		if !ok {
			return true
		}
		found = &StructuredCandidate{
			Image: node.image(),
			Price: node.price(),
		}
		return false
	})
	return found
}

// decodeProductNode picks the node a block describes. An array root yields its
// first Product element; an object root must itself be a Product or ItemPage.
func decodeProductNode(raw []byte) (ldNode, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ldNode{}, false
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return ldNode{}, false
		}
		for _, item := range items {
			obj, ok := decodeObject(item)
			if !ok {
				continue
			}
			if node := (ldNode{members: obj}); node.typeName() == ldTypeProduct {
				return node, true
			}
		}
		return ldNode{}, false
	}

	obj, ok := decodeObject(trimmed)
	if !ok {
		return ldNode{}, false
	}
	node := ldNode{members: obj}
	switch node.typeName() {
	case ldTypeProduct, ldTypeItemPage:
		return node, true
	default:
		return ldNode{}, false
	}
}

func (n ldNode) typeName() string {
	return stringValue(n.members["@type"])
}

// image reads the first image of an array (its url when it is an object), the
// url of a single image object, or a bare string.
func (n ldNode) image() string {
	raw := bytes.TrimSpace(n.members["image"])
	switch firstByte(raw) {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return ""
		}
		first := bytes.TrimSpace(items[0])
		if firstByte(first) == '{' {
			return objectURL(first)
		}
		return stringValue(first)
	case '{':
		return objectURL(raw)
	default:
		return stringValue(raw)
	}
}

// price reads price, then highPrice, then lowPrice from the first offer.
func (n ldNode) price() string {
	raw := bytes.TrimSpace(n.members["offers"])
	if firstByte(raw) == '[' {
		var offers []json.RawMessage
		if err := json.Unmarshal(raw, &offers); err != nil || len(offers) == 0 {
			return ""
		}
		raw = bytes.TrimSpace(offers[0])
	}
	if firstByte(raw) != '{' {
		return ""
	}
	offer, ok := decodeObject(raw)
	if !ok {
		return ""
	}
	for _, key := range []string{"price", "highPrice", "lowPrice"} {
		if v := scalarValue(offer[key]); v != "" {
			return v
		}
	}
	return ""
}

func objectURL(raw []byte) string {
	obj, ok := decodeObject(raw)
	if !ok {
		return ""
	}
	return stringValue(obj["url"])
}

func stringValue(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func firstByte(raw []byte) byte {
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
