package closing

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/money"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	if _, err := s.buf.WriteString(line); err != nil {
		return err
	}
	return nil
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (s *csvStreamer) Close() error {
	return s.Flush()
}

// historyColumns is the fixed column set of the history export. Order is
// part of the contract: identical data must serialise byte-for-byte.
var historyColumns = []string{
	"Reference", "Date", "Caissier", "Taux",
	"Theorique USD", "Theorique CDF",
	"Physique USD", "Physique CDF",
	"Equivalent USD", "Ecart USD", "Ecart CDF",
	"Classification", "Statut", "Observation",
}

// WriteHistoryCSV serialises a closing sequence to the delimited export
// format, most recent first as loaded.
func WriteHistoryCSV(w io.Writer, records []Record) error {
	streamer := newCSVStreamer(w)
	if err := streamer.writeComment("# Report: Clotures de caisse"); err != nil {
		return err
	}
	if err := streamer.writeComment(fmt.Sprintf("# Records: %d", len(records))); err != nil {
		return err
	}
	if err := streamer.writeRow(historyColumns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := streamer.writeRow([]string{
			rec.Reference,
			rec.ClosedAt.UTC().Format("2006-01-02 15:04:05"),
			strconv.FormatInt(rec.CashierID, 10),
			rec.ExchangeRate.String(),
			money.Format(rec.TheoreticalUSD),
			money.Format(rec.TheoreticalCDF),
			money.Format(rec.PhysicalUSD),
			money.Format(rec.PhysicalCDF),
			formatOptional(rec.UsdEquivalent),
			formatOptional(rec.VarianceUSD),
			money.Format(rec.VarianceCDF),
			string(rec.Classification),
			string(rec.Status),
			rec.Observation,
		}); err != nil {
			return err
		}
	}
	return streamer.Close()
}

func formatOptional(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return money.Format(*v)
}
