package bluesky

import (
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// MaxPostGraphemes is the Bluesky post length limit.
const MaxPostGraphemes = 300

// normalizeText returns s in NFC, the form facet offsets are computed on.
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

func graphemeLen(s string) int {
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n++
	}
	return n
}

// truncateGraphemes keeps max-3 grapheme clusters and appends "..." when s
// is longer than max clusters.
func truncateGraphemes(s string, max int) string {
	if graphemeLen(s) <= max {
		return s
	}
	keep := max - 3
	suffix := "..."
	if keep < 0 {
		keep = max
		suffix = ""
	}
	var b strings.Builder
	gr := uniseg.NewGraphemes(s)
	for i := 0; i < keep && gr.Next(); i++ {
		b.WriteString(gr.Str())
	}
	b.WriteString(suffix)
	return b.String()
}

// linkFacets marks every occurrence of link in text as a link facet. Facet
// offsets are UTF-8 byte offsets.
func linkFacets(text, link string) []facet {
	if link == "" {
		return nil
	}
	var out []facet
	offset := 0
	for {
		i := strings.Index(text[offset:], link)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(link)
		out = append(out, facet{
			Index:    facetIndex{ByteStart: start, ByteEnd: end},
			Features: []facetFeature{{Type: facetLinkType, URI: link}},
		})
		offset = end
	}
	return out
}

// rkey returns the record key of an at:// URI.
func rkey(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
