package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"

	"github.com/rodcar/agentic-software-factory/internal/models"
)

var csvHeader = []string{"Work Item Type", "Title", "Test Step", "Step Action", "Step Expected"}

// TestPlanCSV exports a test plan JSON payload in the work tracker's test
// case import format: one "Test Case" row per case, step columns left empty.
// A malformed payload still yields a valid CSV with a single error row, so
// the chat surface always has a file to attach.
func TestPlanCSV(raw string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(csvHeader)

	var plan models.TestPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		w.Write([]string{"Error", "Invalid test plan JSON", "", "", ""})
		w.Flush()
		return buf.Bytes()
	}
	for _, sc := range plan.Cases() {
		w.Write([]string{"Test Case", sc.Case.Name, "", "", ""})
	}
	w.Flush()
	return buf.Bytes()
}
