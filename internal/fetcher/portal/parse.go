package portal

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// gradeTableOffset skips the header tables that precede the subject grids.
const gradeTableOffset = 2

// ParseResultPage classifies a submitted result page. It returns
// results.ErrInvalidCaptcha when the portal rejected the answer and
// results.ErrResultUnavailable when no grading panel rendered.
func ParseResultPage(html string, rollNo string, sel Selectors) (results.ResultRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return results.ResultRecord{}, fmt.Errorf("parse result page: %w", err)
	}

	if msg := textOf(doc, sel.Error); strings.Contains(msg, InvalidCaptchaMessage) {
		return results.ResultRecord{}, results.ErrInvalidCaptcha
	}
	if doc.Find(sel.ResultPanel).Length() == 0 || doc.Find(sel.SGPA).Length() == 0 {
		return results.ResultRecord{}, results.ErrResultUnavailable
	}

	rec := results.ResultRecord{
		Name:              textOf(doc, sel.Name),
		Branch:            textOf(doc, sel.Branch),
		RollNo:            rollNo,
		SGPA:              textOf(doc, sel.SGPA),
		CGPA:              textOf(doc, sel.CGPA),
		ResultDescription: textOf(doc, sel.Result),
	}
	doc.Find(sel.GradeTables).Each(func(i int, table *goquery.Selection) {
		if i < gradeTableOffset {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 4 {
				return
			}
			rec.Grades = append(rec.Grades, results.SubjectGrade{
				Code:  strings.TrimSpace(cells.Eq(0).Text()),
				Grade: strings.TrimSpace(cells.Eq(3).Text()),
			})
		})
	})
	return rec, nil
}

func textOf(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}
