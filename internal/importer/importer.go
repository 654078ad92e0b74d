// Package importer loads prospect records from CSV or XLSX files, locally
// or over FTP, into the store.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
)

const (
	defaultProgressEvery = 100
	insertBatchSize      = 500
)

// knownColumns maps accepted header names to prospect fields. Headers are
// matched case-insensitively after trimming; unknown columns are ignored.
var knownColumns = map[string]string{
	"email":       "email",
	"first_name":  "first_name",
	"firstname":   "first_name",
	"last_name":   "last_name",
	"lastname":    "last_name",
	"company":     "company",
	"title":       "title",
	"profile_url": "profile_url",
	"profileurl":  "profile_url",
}

// Result summarizes an import run.
type Result struct {
	Rows     int // data rows read from the source
	Imported int // rows handed to the store
	Skipped  int // rows without a usable email, plus in-file duplicates
}

// Importer streams prospect files into the store.
type Importer struct {
	store         store.Store
	progressEvery int
	ftpTimeout    time.Duration
}

// Option configures the Importer.
type Option func(*Importer)

// WithProgressEvery sets how many rows pass between progress callbacks.
func WithProgressEvery(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.progressEvery = n
		}
	}
}

// WithFTPTimeout sets the FTP dial timeout.
func WithFTPTimeout(d time.Duration) Option {
	return func(im *Importer) {
		im.ftpTimeout = d
	}
}

// New creates an Importer over the store.
func New(st store.Store, opts ...Option) *Importer {
	im := &Importer{
		store:         st,
		progressEvery: defaultProgressEvery,
		ftpTimeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import reads the source and inserts prospects in batches. onProgress, if
// set, is called with the running row count every progressEvery rows and
// once at the end. Duplicate emails within the file keep the first
// occurrence.
func (im *Importer) Import(ctx context.Context, source, format string, onProgress func(rows int)) (*Result, error) {
	path, cleanup, err := im.localize(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if format == "" {
		format = inferFormat(source)
	}

	var rows [][]string
	var header []string
	switch format {
	case "csv":
		header, rows, err = readCSV(path)
	case "xlsx":
		header, rows, err = readXLSX(path)
	default:
		return nil, eris.Errorf("importer: unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}

	cols, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	seen := make(map[string]bool)
	var batch []model.Prospect

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := im.store.CreateProspects(ctx, batch); err != nil {
			return eris.Wrap(err, "importer: insert batch")
		}
		result.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, cells := range rows {
		if err := ctx.Err(); err != nil {
			return result, eris.Wrap(err, "importer: cancelled")
		}
		result.Rows++

		p := rowToProspect(cols, cells)
		if p.Email == "" || !strings.Contains(p.Email, "@") || seen[p.Email] {
			result.Skipped++
		} else {
			seen[p.Email] = true
			batch = append(batch, p)
			if len(batch) >= insertBatchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}
		}

		if onProgress != nil && result.Rows%im.progressEvery == 0 {
			onProgress(result.Rows)
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	if onProgress != nil {
		onProgress(result.Rows)
	}

	zap.L().Info("import complete",
		zap.String("source", source),
		zap.Int("rows", result.Rows),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// localize resolves the source to a local file path. FTP sources download to
// a temp file removed by cleanup.
func (im *Importer) localize(ctx context.Context, source string) (string, func(), error) {
	if !strings.HasPrefix(source, "ftp://") {
		if _, err := os.Stat(source); err != nil {
			return "", nil, eris.Wrapf(err, "importer: source %s", source)
		}
		return source, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "import-*"+filepath.Ext(source))
	if err != nil {
		return "", nil, eris.Wrap(err, "importer: temp file")
	}
	tmp.Close()

	if err := downloadFTP(ctx, source, tmp.Name(), im.ftpTimeout); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func inferFormat(source string) string {
	if strings.EqualFold(filepath.Ext(source), ".xlsx") {
		return "xlsx"
	}
	return "csv"
}

func readCSV(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "importer: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err = reader.Read()
	if err == io.EOF {
		return nil, nil, eris.New("importer: empty file")
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "importer: read header")
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "importer: read row")
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

// mapHeader resolves each known column to its index. An email column is
// required; everything else is optional.
func mapHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if field, ok := knownColumns[key]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	if _, ok := cols["email"]; !ok {
		return nil, eris.New("importer: no email column in header")
	}
	return cols, nil
}

func rowToProspect(cols map[string]int, cells []string) model.Prospect {
	get := func(field string) string {
		i, ok := cols[field]
		if !ok || i >= len(cells) {
			return ""
		}
		return norm.NFC.String(strings.TrimSpace(cells[i]))
	}
	return model.Prospect{
		Email:      strings.ToLower(get("email")),
		FirstName:  get("first_name"),
		LastName:   get("last_name"),
		Company:    get("company"),
		Title:      get("title"),
		ProfileURL: get("profile_url"),
	}
}
