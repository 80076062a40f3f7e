package mp

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"wxharvest/pkg/errors"
)

// contentSelectors locate the article body, most specific first
var contentSelectors = []string{"#js_content", ".rich_media_content", "#page-content"}

// FetchArticleContent downloads a public article page and returns the inner
// HTML of its body container.
func (c *Client) FetchArticleContent(ctx context.Context, articleURL, userAgent string) (string, error) {
	if articleURL == "" {
		return "", errors.New(errors.ErrorTypeInvalidRequest, "article url is empty")
	}

	body, err := c.get(ctx, articleURL, Credentials{UserAgent: userAgent}, "")
	if err != nil {
		return "", err
	}
	return ExtractContent(body)
}

// ExtractContent pulls the article body out of a rendered article page
func ExtractContent(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", errors.Wrap(errors.ErrorTypeParsing, err, "failed to parse article page")
	}

	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		html, err := node.Html()
		if err != nil {
			return "", errors.Wrap(errors.ErrorTypeParsing, err, "failed to render article body")
		}
		if html = strings.TrimSpace(html); html != "" {
			return html, nil
		}
	}
	return "", errors.New(errors.ErrorTypeParsing, "article body not found")
}
