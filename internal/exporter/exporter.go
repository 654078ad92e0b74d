// Package exporter writes prospects and their enrichment results to CSV or
// XLSX files.
package exporter

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
)

const pageSize = 500

var exportHeader = []string{
	"email", "first_name", "last_name", "company", "title", "profile_url",
	"status", "profile_summary", "company_summary", "tech_stack_summary",
	"combined_analysis", "outreach_message",
}

// Exporter streams prospects out of the store.
type Exporter struct {
	store store.Store
}

// New creates an Exporter over the store.
func New(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// Export writes prospects matching the status filter ("" for all) to dest.
// Format is csv or xlsx, inferred from the extension when empty. onProgress,
// if set, receives the running row count after each page. Returns the number
// of rows written.
func (e *Exporter) Export(ctx context.Context, dest, format string, status model.ProspectStatus, onProgress func(rows int)) (int, error) {
	if format == "" {
		if strings.EqualFold(filepath.Ext(dest), ".xlsx") {
			format = "xlsx"
		} else {
			format = "csv"
		}
	}

	var w rowWriter
	switch format {
	case "csv":
		w = newCSVWriter()
	case "xlsx":
		w = newXLSXWriter()
	default:
		return 0, eris.Errorf("exporter: unsupported format %q", format)
	}

	if err := w.writeRow(exportHeader); err != nil {
		return 0, err
	}

	written := 0
	for offset := 0; ; offset += pageSize {
		prospects, err := e.store.ListProspects(ctx, store.ProspectFilter{
			Status: status,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return written, eris.Wrap(err, "exporter: list prospects")
		}
		if len(prospects) == 0 {
			break
		}

		for i := range prospects {
			p := &prospects[i]
			rec, err := e.store.GetEnrichment(ctx, p.ID)
			if err != nil {
				return written, eris.Wrapf(err, "exporter: enrichment for %s", p.ID)
			}
			if err := w.writeRow(exportRow(p, rec)); err != nil {
				return written, err
			}
			written++
		}
		if onProgress != nil {
			onProgress(written)
		}
		if len(prospects) < pageSize {
			break
		}
	}

	if err := w.save(dest); err != nil {
		return written, err
	}

	zap.L().Info("export complete",
		zap.String("destination", dest),
		zap.String("format", format),
		zap.Int("rows", written),
	)
	return written, nil
}

func exportRow(p *model.Prospect, rec *model.EnrichmentRecord) []string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return []string{
		p.Email, p.FirstName, p.LastName, p.Company, p.Title, p.ProfileURL,
		string(p.Status),
		deref(rec.ProfileSummary), deref(rec.CompanySummary),
		deref(rec.TechStackSummary), deref(rec.CombinedAnalysis),
		deref(rec.OutreachMessage),
	}
}

// rowWriter abstracts the two output formats. Rows accumulate in memory and
// save writes the file in one shot.
type rowWriter interface {
	writeRow(cells []string) error
	save(dest string) error
}

type csvWriter struct {
	buf strings.Builder
	w   *csv.Writer
}

func newCSVWriter() *csvWriter {
	cw := &csvWriter{}
	cw.w = csv.NewWriter(&cw.buf)
	return cw
}

func (c *csvWriter) writeRow(cells []string) error {
	if err := c.w.Write(cells); err != nil {
		return eris.Wrap(err, "exporter: write csv row")
	}
	return nil
}

func (c *csvWriter) save(dest string) error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return eris.Wrap(err, "exporter: flush csv")
	}
	if err := os.WriteFile(dest, []byte(c.buf.String()), 0o644); err != nil {
		return eris.Wrap(err, "exporter: write file")
	}
	return nil
}

type xlsxWriter struct {
	file  *xlsx.File
	sheet *xlsx.Sheet
}

func newXLSXWriter() *xlsxWriter {
	f := xlsx.NewFile()
	sheet, _ := f.AddSheet("Prospects")
	return &xlsxWriter{file: f, sheet: sheet}
}

func (x *xlsxWriter) writeRow(cells []string) error {
	row := x.sheet.AddRow()
	for _, cell := range cells {
		row.AddCell().SetString(cell)
	}
	return nil
}

func (x *xlsxWriter) save(dest string) error {
	if err := x.file.Save(dest); err != nil {
		return eris.Wrap(err, "exporter: save xlsx")
	}
	return nil
}
