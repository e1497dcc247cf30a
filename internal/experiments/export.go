package experiments

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/promptlab/backend/internal/models"
)

var csvHeader = []string{
	"experiment_id", "prompt", "temperature", "top_p", "variation_index",
	"coherence", "completeness", "redundancy", "readability", "structure", "score",
	"response",
}

// WriteCSV writes one row per response of exp, numbers to two decimals.
func WriteCSV(w io.Writer, exp *models.Experiment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range exp.Responses {
		record := []string{
			exp.ID,
			exp.Prompt,
			decimal(r.ParameterSet.Temperature),
			decimal(r.ParameterSet.TopP),
			strconv.Itoa(r.VariationIndex),
			decimal(r.Metrics.Coherence),
			decimal(r.Metrics.Completeness),
			decimal(r.Metrics.Redundancy),
			decimal(r.Metrics.Readability),
			decimal(r.Metrics.Structure),
			decimal(r.Metrics.Score),
			r.Text,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportFilename is the download name for an experiment export.
func ExportFilename(id, format string) string {
	return "experiment-" + id + "." + format
}

func decimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
