package edgar

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// GetFilingContent fetches a filing's index page, picks the primary
// document, and returns its body as plain text.
//
// Archive paths use the stripped CIK and dashless accession; the dashed
// accession names the index file itself.
func (c *Client) GetFilingContent(ctx context.Context, cik, accessionNo string) (*models.FilingContent, error) {
	stripped := models.StripCIK(cik)
	if models.NormalizeCIK(cik) == "" {
		return nil, common.NewError(common.KindValidation, "invalid CIK: "+cik)
	}
	dashed := models.NormalizeAccession(accessionNo)
	if dashed == "" {
		return nil, common.NewError(common.KindValidation, "invalid accession number: "+accessionNo)
	}

	dir := fmt.Sprintf("/Archives/edgar/data/%s/%s", stripped, models.StripAccession(dashed))
	indexPath := fmt.Sprintf("%s/%s-index.html", dir, dashed)

	indexBody, err := c.get(ctx, indexPath)
	if err != nil {
		return nil, err
	}

	docs, err := parseIndex(indexBody, c.baseURL, dir)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.NewError(common.KindNotFound, "filing index lists no documents: "+dashed)
	}

	primary := pickPrimary(docs)

	body, err := c.get(ctx, dir+"/"+primary.Filename)
	if err != nil {
		return nil, err
	}

	text := string(body)
	if looksLikeHTML(primary.Filename, text) {
		text, err = htmlToText(body)
		if err != nil {
			return nil, common.WrapError(common.KindMalformed, "parse filing document", err)
		}
	}

	return &models.FilingContent{
		Documents:   docs,
		PrimaryURL:  primary.URL,
		PrimaryText: text,
	}, nil
}

// parseIndex extracts the document table rows from a filing index page.
func parseIndex(body []byte, baseURL, dir string) ([]models.FilingDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, common.WrapError(common.KindMalformed, "parse filing index", err)
	}

	var docs []models.FilingDocument
	doc.Find("table.tableFile tr, table tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return true // header or spacer row
		}

		d := models.FilingDocument{
			Sequence:    strings.TrimSpace(cells.Eq(0).Text()),
			Description: strings.TrimSpace(cells.Eq(1).Text()),
		}

		link := cells.Eq(2).Find("a").First()
		href, _ := link.Attr("href")
		d.Filename = strings.TrimSpace(link.Text())
		if d.Filename == "" {
			d.Filename = lastPathSegment(href)
		}
		if href != "" {
			if strings.HasPrefix(href, "http") {
				d.URL = href
			} else if strings.HasPrefix(href, "/") {
				d.URL = baseURL + href
			} else {
				d.URL = baseURL + dir + "/" + href
			}
		}
		if cells.Length() >= 4 {
			d.DocType = strings.TrimSpace(cells.Eq(3).Text())
		}

		if d.Filename != "" {
			docs = append(docs, d)
		}
		return true
	})

	// Deduplicate: pages that match both selectors report rows twice.
	seen := make(map[string]bool, len(docs))
	out := docs[:0]
	for _, d := range docs {
		if seen[d.Filename] {
			continue
		}
		seen[d.Filename] = true
		out = append(out, d)
	}

	return out, nil
}

// pickPrimary selects the filing's main document: the first row whose type
// matches the filing itself, else the first row.
func pickPrimary(docs []models.FilingDocument) models.FilingDocument {
	for _, d := range docs {
		t := strings.ToLower(d.DocType)
		if t == "filing" || strings.HasPrefix(t, "10-") || strings.HasPrefix(t, "8-") {
			return d
		}
	}
	return docs[0]
}

func lastPathSegment(href string) string {
	if href == "" {
		return ""
	}
	parts := strings.Split(href, "/")
	return parts[len(parts)-1]
}

func looksLikeHTML(filename, body string) bool {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".htm") || strings.HasSuffix(lower, ".html") {
		return true
	}
	head := strings.ToLower(body)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// htmlToText flattens a filing's HTML into line-oriented plain text so the
// section extractor can scan headers line by line.
func htmlToText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head").Remove()

	// Block-level elements become line breaks so headers land on their
	// own lines.
	doc.Find("p, div, tr, br, h1, h2, h3, h4, h5, h6, li, table").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := doc.Text()
	text = strings.ReplaceAll(text, " ", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}
