// File: internal/classifier/vocab.go
// Description: Shared detection vocabulary. Strategies consult these tables
// instead of hardcoding string checks; new languages are added as rows.
package classifier

import (
	"regexp"
	"strings"

	"github.com/nkoudela/scout-cli/api/schemas"
)

// contactPathPatterns is the localized probe list, ordered by how often the
// path occurs in the wild.
var contactPathPatterns = []string{
	"/contact",
	"/contact-us",
	"/contactus",
	"/contacts",
	"/kontakt",
	"/impressum",
	"/contacto",
	"/contatti",
	"/nous-contacter",
	"/about/contact",
	"/support/contact",
	"/get-in-touch",
	"/reach-us",
	"/inquiry",
	"/anfrage",
}

// contactKeywords are page-content indicators across the languages the
// probe list covers.
var contactKeywords = []string{
	"contact us",
	"contact form",
	"get in touch",
	"reach out",
	"send us a message",
	"kontaktieren sie uns",
	"kontaktformular",
	"schreiben sie uns",
	"contáctanos",
	"contactez-nous",
	"contattaci",
	"impressum",
	"e-mail",
	"email",
	"telefon",
	"phone",
}

// contactLinkPattern matches anchor text or hrefs that plausibly lead to a
// contact page.
var contactLinkPattern = regexp.MustCompile(
	`(?i)contact|kontakt|impressum|get.?in.?touch|reach.?(us|out)|inquiry|enquiry|anfrage|contacto|contattaci`)

// contactInfoPattern finds inline contact facts used to verify a fetched page
// actually is a contact page.
var contactInfoPattern = regexp.MustCompile(
	`(?i)mailto:|tel:|[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}|\+?[0-9][0-9\s\-().]{7,20}[0-9]`)

// pageTypeRules map URL/title vocabulary to a page type, first match wins.
var pageTypeRules = []struct {
	pageType schemas.PageType
	pattern  *regexp.Regexp
}{
	{schemas.PageContact, regexp.MustCompile(`(?i)contact|kontakt|get.?in.?touch|reach`)},
	{schemas.PageInquiry, regexp.MustCompile(`(?i)inquiry|enquiry|anfrage|quote|request`)},
	{schemas.PageSupport, regexp.MustCompile(`(?i)support|help|faq|service`)},
	{schemas.PageAbout, regexp.MustCompile(`(?i)about|impressum|imprint|company|team`)},
}

// inferPageType classifies a candidate by its URL and title vocabulary.
func inferPageType(url, title string) schemas.PageType {
	haystack := url + " " + title
	for _, rule := range pageTypeRules {
		if rule.pattern.MatchString(haystack) {
			return rule.pageType
		}
	}
	return schemas.PageOther
}

// countKeywordHits reports how many distinct contact keywords occur in text.
func countKeywordHits(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range contactKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}
