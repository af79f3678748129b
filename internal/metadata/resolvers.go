package metadata

import (
	"regexp"
	"strings"
)

// Field names used in traces and metrics.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldImage       = "image"
	FieldPrice       = "price"
)

// TitleChain resolves the product title.
var TitleChain = Chain{
	attrStrategy("og_title", `meta[property="og:title"]`, "content"),
	trimmedTextStrategy("vendor_product_title", "#productTitle"),
	textStrategy("document_title", "title"),
	attrStrategy("meta_title", `meta[name="title"]`, "content"),
}

// DescriptionChain resolves the product description.
var DescriptionChain = Chain{
	attrStrategy("og_description", `meta[property="og:description"]`, "content"),
	attrStrategy("meta_description", `meta[name="description"]`, "content"),
	trimmedTextStrategy("vendor_product_description", "#productDescription"),
}

// ImageChain resolves the product image. The winner may be relative; callers
// pass it through ResolveURL.
var ImageChain = Chain{
	{Name: "jsonld_image", Resolve: structuredImage},
	attrStrategy("og_image", `meta[property="og:image"]`, "content"),
	attrStrategy("vendor_landing_image", "#landingImage", "src"),
	attrStrategy("meta_product_image", `meta[property="product:image"]`, "content"),
	attrStrategy("link_image_src", `link[rel="image_src"]`, "href"),
}

// GenericPriceSelectors are tried in order by the last price strategy.
var GenericPriceSelectors = []string{
	".price",
	".product-price",
	".offer-price",
	`[itemprop="price"]`,
	".current-price",
}

// PriceChain resolves the raw price text.
var PriceChain = Chain{
	{Name: "jsonld_price", Resolve: structuredPrice},
	attrStrategy("meta_price_amount", `meta[property="product:price:amount"]`, "content"),
	{Name: "vendor_price_parts", Resolve: vendorPrice},
	{Name: "generic_price_selector", Resolve: genericPrice},
}

var digitPattern = regexp.MustCompile(`[0-9]`)

func structuredImage(_ *Document, sd *StructuredCandidate) string {
	if sd == nil {
		return ""
	}
	return sd.Image
}

func structuredPrice(_ *Document, sd *StructuredCandidate) string {
	if sd == nil {
		return ""
	}
	return sd.Price
}

// vendorPrice joins the whole and fraction parts of a split price widget with a
// comma. The fraction is optional; the whole part is not.
func vendorPrice(doc *Document, _ *StructuredCandidate) string {
	whole := strings.TrimSpace(doc.FirstText(".a-price-whole"))
	if whole == "" {
		return ""
	}
	fraction := strings.TrimSpace(doc.FirstText(".a-price-fraction"))
	if fraction == "" {
		return whole
	}
	return whole + "," + fraction
}

// genericPrice returns the first-match text of the first generic selector whose
// text contains a digit. Any digit qualifies, SKUs included.
func genericPrice(doc *Document, _ *StructuredCandidate) string {
	for _, selector := range GenericPriceSelectors {
		text := strings.TrimSpace(doc.FirstText(selector))
		if text != "" && digitPattern.MatchString(text) {
			return text
		}
	}
	return ""
}
