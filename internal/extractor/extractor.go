// File: internal/extractor/extractor.go
// Description: Pulls structured contact facts (emails, phones, forms, links,
// tables, metadata) out of rendered page HTML.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Loose international phone pattern; candidates are normalized afterward
	// and dropped when too short to be a real number.
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\s\-().]{6,20}[0-9]`)
)

// socialHosts maps host fragments to the platforms worth reporting.
var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"tiktok.com",
}

// fieldRoleRules infer a form field's purpose from its attribute text.
// Ordered: the first matching row wins.
var fieldRoleRules = []struct {
	role    string
	pattern *regexp.Regexp
}{
	{"email", regexp.MustCompile(`(?i)e-?mail`)},
	{"phone", regexp.MustCompile(`(?i)phone|tel|mobil`)},
	{"name", regexp.MustCompile(`(?i)\bname\b|full.?name|first|last|vorname|nachname`)},
	{"subject", regexp.MustCompile(`(?i)subject|betreff|topic`)},
	{"message", regexp.MustCompile(`(?i)message|comment|inquiry|enquiry|nachricht|body`)},
}

// Extractor parses page HTML into ContactDetails.
type Extractor struct {
	logger *zap.Logger
}

// New creates an extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger.Named("content_extractor")}
}

// Extract parses the HTML and collects every contact-relevant signal it can
// find. A parse failure is the only hard error; missing signals are not.
func (e *Extractor) Extract(html string) (*schemas.ContactDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page html: %w", err)
	}

	details := &schemas.ContactDetails{
		Metadata: map[string]string{},
	}

	text := doc.Text()
	details.Emails = e.extractEmails(doc, text)
	details.Phones = e.extractPhones(doc, text)
	details.Links, details.SocialLinks = e.extractLinks(doc)
	details.Forms = e.extractForms(doc)
	details.Tables = e.extractTables(doc)
	e.extractMetadata(doc, details.Metadata)

	e.logger.Debug("Extraction finished",
		zap.Int("emails", len(details.Emails)),
		zap.Int("phones", len(details.Phones)),
		zap.Int("forms", len(details.Forms)),
		zap.Int("links", len(details.Links)))

	return details, nil
}

func (e *Extractor) extractEmails(doc *goquery.Document, text string) []string {
	seen := make(map[string]struct{})
	var emails []string
	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		emails = append(emails, addr)
	}

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if emailPattern.MatchString(addr) {
			add(addr)
		}
	})
	for _, match := range emailPattern.FindAllString(text, -1) {
		add(match)
	}
	return emails
}

func (e *Extractor) extractPhones(doc *goquery.Document, text string) []string {
	seen := make(map[string]struct{})
	var phones []string
	add := func(raw string) {
		normalized := normalizePhone(raw)
		// Too few digits means it was a date, a price, or line noise.
		if len(strings.TrimPrefix(normalized, "+")) < 7 {
			return
		}
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		phones = append(phones, normalized)
	}

	doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(strings.TrimPrefix(href, "tel:"))
	})
	for _, match := range phonePattern.FindAllString(text, -1) {
		add(match)
	}
	return phones
}

func (e *Extractor) extractLinks(doc *goquery.Document) ([]schemas.Link, []string) {
	var links []schemas.Link
	var social []string
	seenSocial := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		links = append(links, schemas.Link{
			Href: href,
			Text: strings.TrimSpace(s.Text()),
		})
		lower := strings.ToLower(href)
		for _, host := range socialHosts {
			if strings.Contains(lower, host) {
				if _, ok := seenSocial[href]; !ok {
					seenSocial[href] = struct{}{}
					social = append(social, href)
				}
				break
			}
		}
	})
	return links, social
}

func (e *Extractor) extractForms(doc *goquery.Document) []schemas.FormInfo {
	var forms []schemas.FormInfo
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		info := schemas.FormInfo{
			Action: form.AttrOr("action", ""),
			Method: strings.ToUpper(form.AttrOr("method", "GET")),
		}
		form.Find("input, textarea, select").Each(func(_ int, field *goquery.Selection) {
			fieldType := field.AttrOr("type", "")
			if fieldType == "" {
				fieldType = goquery.NodeName(field)
			}
			switch fieldType {
			case "hidden", "submit", "button", "image", "reset":
				return
			}
			name := field.AttrOr("name", field.AttrOr("id", ""))
			_, required := field.Attr("required")
			info.Fields = append(info.Fields, schemas.FormField{
				Name:     name,
				Type:     fieldType,
				Label:    labelFor(doc, field),
				Role:     InferFieldRole(field, doc),
				Required: required,
			})
		})
		forms = append(forms, info)
	})
	return forms
}

func (e *Extractor) extractTables(doc *goquery.Document) [][]string {
	var tables [][]string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		if len(rows) > 0 {
			tables = append(tables, rows)
		}
	})
	return tables
}

func (e *Extractor) extractMetadata(doc *goquery.Document, out map[string]string) {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		out["title"] = title
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", s.AttrOr("property", ""))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		switch name {
		case "description", "og:title", "og:description", "og:site_name", "author":
			out[name] = content
		}
	})
}

// InferFieldRole classifies an input by its attribute and label vocabulary.
// Unmatched fields get an empty role and are skipped during auto-fill.
func InferFieldRole(field *goquery.Selection, doc *goquery.Document) string {
	if field.AttrOr("type", "") == "email" {
		return "email"
	}
	if field.AttrOr("type", "") == "tel" {
		return "phone"
	}
	if goquery.NodeName(field) == "textarea" {
		return "message"
	}

	haystack := strings.Join([]string{
		field.AttrOr("name", ""),
		field.AttrOr("id", ""),
		field.AttrOr("placeholder", ""),
		field.AttrOr("aria-label", ""),
		field.AttrOr("autocomplete", ""),
		labelFor(doc, field),
	}, " ")

	for _, rule := range fieldRoleRules {
		if rule.pattern.MatchString(haystack) {
			return rule.role
		}
	}
	return ""
}

// labelFor resolves the visible label text tied to a field via for=id.
func labelFor(doc *goquery.Document, field *goquery.Selection) string {
	id := field.AttrOr("id", "")
	if id == "" {
		return ""
	}
	label := doc.Find(fmt.Sprintf(`label[for=%q]`, id)).First()
	return strings.TrimSpace(label.Text())
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
