// File: internal/extractor/extractor_test.go
package extractor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

const contactPageHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Contact Us - Acme GmbH</title>
	<meta name="description" content="Get in touch with Acme.">
	<meta property="og:site_name" content="Acme">
</head>
<body>
	<h1>Contact</h1>
	<p>Write to <a href="mailto:hello@acme.example?subject=Hi">hello@acme.example</a>
	or support@acme.example, or call <a href="tel:+49 30 1234567">+49 30 1234567</a>.</p>
	<p>Office: (030) 765-4321</p>
	<form action="/contact/submit" method="post">
		<label for="fname">Your Name</label>
		<input type="text" id="fname" name="full_name" required>
		<input type="email" name="email" required>
		<input type="text" name="betreff" placeholder="Betreff">
		<textarea name="msg"></textarea>
		<input type="hidden" name="csrf" value="x">
		<input type="submit" value="Send">
	</form>
	<table>
		<tr><th>Department</th><th>Email</th></tr>
		<tr><td>Sales</td><td>sales@acme.example</td></tr>
	</table>
	<footer>
		<a href="/imprint">Imprint</a>
		<a href="https://www.linkedin.com/company/acme">LinkedIn</a>
		<a href="https://twitter.com/acme">Twitter</a>
		<a href="#top">Back to top</a>
	</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	e := New(zap.NewNop())

	details, err := e.Extract(contactPageHTML)
	require.NoError(t, err)

	t.Run("emails are deduplicated and lowercased", func(t *testing.T) {
		assert.ElementsMatch(t, []string{
			"hello@acme.example",
			"support@acme.example",
			"sales@acme.example",
		}, details.Emails)
	})

	t.Run("phones are normalized to digits", func(t *testing.T) {
		assert.Contains(t, details.Phones, "+49301234567")
		assert.Contains(t, details.Phones, "0307654321")
	})

	t.Run("forms carry inferred field roles", func(t *testing.T) {
		require.Len(t, details.Forms, 1)
		form := details.Forms[0]
		assert.Equal(t, "/contact/submit", form.Action)
		assert.Equal(t, "POST", form.Method)

		// The hidden csrf input and the submit button are skipped.
		want := []schemas.FormField{
			{Name: "full_name", Type: "text", Label: "Your Name", Role: "name", Required: true},
			{Name: "email", Type: "email", Role: "email", Required: true},
			{Name: "betreff", Type: "text", Role: "subject"},
			{Name: "msg", Type: "textarea", Role: "message"},
		}
		if diff := cmp.Diff(want, form.Fields); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("social links are separated from plain links", func(t *testing.T) {
		assert.ElementsMatch(t, []string{
			"https://www.linkedin.com/company/acme",
			"https://twitter.com/acme",
		}, details.SocialLinks)

		hrefs := make([]string, 0, len(details.Links))
		for _, l := range details.Links {
			hrefs = append(hrefs, l.Href)
		}
		assert.Contains(t, hrefs, "/imprint")
		// Fragment-only and mailto/tel anchors are not page links.
		assert.NotContains(t, hrefs, "#top")
	})

	t.Run("tables are flattened row by row", func(t *testing.T) {
		require.Len(t, details.Tables, 1)
		assert.Equal(t, "Department | Email", details.Tables[0][0])
		assert.Equal(t, "Sales | sales@acme.example", details.Tables[0][1])
	})

	t.Run("metadata captures title and description", func(t *testing.T) {
		assert.Equal(t, "Contact Us - Acme GmbH", details.Metadata["title"])
		assert.Equal(t, "Get in touch with Acme.", details.Metadata["description"])
		assert.Equal(t, "Acme", details.Metadata["og:site_name"])
	})
}

func TestExtractEmptyPage(t *testing.T) {
	e := New(zap.NewNop())

	details, err := e.Extract("<html><body><p>Nothing here.</p></body></html>")
	require.NoError(t, err)

	assert.Empty(t, details.Emails)
	assert.Empty(t, details.Phones)
	assert.Empty(t, details.Forms)
	assert.Empty(t, details.Tables)
}

func TestPhoneNoiseFiltering(t *testing.T) {
	e := New(zap.NewNop())

	// Short digit runs (years, prices, zip codes) must not be reported as phones.
	details, err := e.Extract("<html><body>Founded 2014, price 12,50 EUR, Berlin 10115</body></html>")
	require.NoError(t, err)
	assert.Empty(t, details.Phones)
}
