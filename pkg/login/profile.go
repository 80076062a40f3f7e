package login

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"wxharvest/pkg/session"
)

// ParseProfile scrapes account metadata from the post-login home page.
// Each field tries its selectors in order; misses leave the field empty.
func ParseProfile(html string) session.Profile {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return session.Profile{}
	}

	return session.Profile{
		Name:           firstText(doc, ".account-name", ".nickname", ".account_nickname", ".weui-desktop-account__nickname"),
		Avatar:         firstAttr(doc, "src", ".account-avatar img", ".avatar img", ".weui-desktop-account__img"),
		ReadYesterday:  firstText(doc, ".data-item:nth-child(1) .number"),
		ShareYesterday: firstText(doc, ".data-item:nth-child(2) .number"),
		WatchYesterday: firstText(doc, ".data-item:nth-child(3) .number"),
		OriginalCount:  firstText(doc, ".original-count .number"),
		UserCount:      firstText(doc, ".user-count .number"),
	}
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
