package sitemap

import (
	"encoding/xml"
	"io"
	"strings"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// parseSitemap walks a sitemap or sitemapindex document with a token
// decoder. Only <loc> elements that are direct children of <url> (pages) or
// <sitemap> (index entries) count; extension elements in other namespaces,
// such as image:loc, are never treated as candidates.
func parseSitemap(r io.Reader) (pages []string, children []string, err error) {
	dec := xml.NewDecoder(r)

	var stack []xml.Name
	for {
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			if len(pages) == 0 && len(children) == 0 {
				return nil, nil, tokErr
			}
			break
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "loc" && coreNamespace(el.Name.Space) && len(stack) >= 1 {
				parent := stack[len(stack)-1]
				if coreNamespace(parent.Space) {
					var loc string
					if err := dec.DecodeElement(&loc, &el); err != nil {
						continue
					}
					loc = strings.TrimSpace(loc)
					if loc == "" {
						continue
					}
					switch parent.Local {
					case "url":
						pages = append(pages, loc)
					case "sitemap":
						children = append(children, loc)
					}
					continue // DecodeElement consumed the end tag
				}
			}
			stack = append(stack, el.Name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return pages, children, nil
}

// coreNamespace accepts the sitemap namespace and, for lenient feeds, no
// namespace at all. Everything else is an extension.
func coreNamespace(space string) bool {
	return space == "" || space == sitemapNS
}
