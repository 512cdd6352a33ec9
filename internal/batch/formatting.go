package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"file", "id_number", "id_format", "name", "date_of_birth", "nationality", "gender", "terminal", "error",
}

// WriteCSV writes one row per item.
func WriteCSV(w io.Writer, items []Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, it := range items {
		errText := ""
		if it.Err != nil {
			errText = it.Err.Error()
		}
		rec := it.Record
		row := []string{
			it.Path, rec.IDNumber, string(rec.IDFormat), rec.Name, rec.DateOfBirth,
			rec.Nationality, rec.Gender, strconv.FormatBool(it.Err == nil && rec.Terminal()), errText,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStats prints a processing summary.
func WriteStats(w io.Writer, s Stats, workers int) {
	fmt.Fprintf(w, "\nProcessing Statistics:\n")
	fmt.Fprintf(w, "  Total inputs: %d\n", s.Total)
	fmt.Fprintf(w, "  Matched: %d\n", s.Matched)
	fmt.Fprintf(w, "  Partial: %d\n", s.Partial)
	fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	fmt.Fprintf(w, "  Workers: %d\n", workers)
	fmt.Fprintf(w, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	if s.Total > 0 && s.Duration > 0 {
		fmt.Fprintf(w, "  Throughput: %.1f inputs/sec\n", float64(s.Total)/s.Duration.Seconds())
	}
}
