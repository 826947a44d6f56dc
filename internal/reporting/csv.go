package reporting

import (
	"fmt"
	"strconv"
	"strings"

	"market-signal-lab/internal/domain"
)

// RenderCSV renders step results as a CSV string. Absent values are empty
// cells; selected features are joined with ';'.
func RenderCSV(steps []*domain.StepResult) string {
	var sb strings.Builder

	// Header
	sb.WriteString("run_id,step,now,timestamp,predicted,actual,predicted_value,actual_value,")
	sb.WriteString("correlation,pairs,train_size,neighbors,selected_features\n")

	// Rows
	for _, s := range steps {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%s,%s,%s,%s,%s,%d,%d,%d,%s\n",
			s.RunID,
			s.Step,
			s.Now,
			s.Timestamp,
			optional(s.Predicted),
			optional(s.Actual),
			optional(s.PredictedValue),
			optional(s.ActualValue),
			optional(s.Correlation),
			s.Pairs,
			s.TrainSize,
			s.Neighbors,
			strings.Join(s.SelectedFeatures, ";"),
		))
	}

	return sb.String()
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
