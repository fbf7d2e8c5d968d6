// Package export renders collected result records as the results CSV.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// ContentType is the MIME type of the rendered file.
const ContentType = "text/csv; charset=utf-8"

// Header builds the column list for records: identity columns, then every
// subject code seen in first-seen order, then the summary columns.
func Header(records []results.ResultRecord) []string {
	header := []string{"Name", "Roll No.", "Branch"}
	header = append(header, SubjectCodes(records)...)
	return append(header, "SGPA", "CGPA", "Result_Des")
}

// SubjectCodes returns the union of subject codes across records in the
// order they were first seen.
func SubjectCodes(records []results.ResultRecord) []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, rec := range records {
		for _, g := range rec.Grades {
			if _, ok := seen[g.Code]; ok {
				continue
			}
			seen[g.Code] = struct{}{}
			codes = append(codes, g.Code)
		}
	}
	return codes
}

// Row lays out rec under the subject columns in codes. Subjects the record
// lacks are left blank.
func Row(rec results.ResultRecord, codes []string) []string {
	row := make([]string, 0, len(codes)+6)
	row = append(row, rec.Name, rec.RollNo, rec.Branch)
	for _, code := range codes {
		grade, _ := rec.Grade(code)
		row = append(row, grade)
	}
	return append(row, rec.SGPA, rec.CGPA, rec.ResultDescription)
}

// WriteCSV writes the header and one row per record. Every field is quoted.
func WriteCSV(w io.Writer, records []results.ResultRecord) error {
	bw := bufio.NewWriter(w)
	codes := SubjectCodes(records)
	if err := writeLine(bw, Header(records)); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeLine(bw, Row(rec, codes)); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeLine(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}
		}
		if _, err := w.WriteString(quote(f)); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
