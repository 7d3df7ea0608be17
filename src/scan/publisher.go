package scan

import (
	"fmt"
	"io"
	"sync"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/olekukonko/tablewriter"
)

// TablePublisher renders every outcome as a small table.
type TablePublisher struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTablePublisher(out io.Writer) *TablePublisher {
	return &TablePublisher{out: out}
}

func (p *TablePublisher) Publish(outcome datastructures.ScanOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	table := tablewriter.NewWriter(p.out)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Scan", "Source", "Component", "Confidence", "Level"})

	scan := fmt.Sprintf("#%d", outcome.ScanId)
	if outcome.Err != nil {
		table.Append([]string{scan, outcome.Source, "error", "-", "-"})
		table.Render()
		fmt.Fprintf(p.out, "\n%s\n", outcome.Err.Error())
		return
	}

	component := DisplayName(outcome.Label)
	if outcome.Unknown {
		component += " (unsure, try to rescan)"
	}
	table.Append([]string{
		scan,
		outcome.Source,
		component,
		fmt.Sprintf("%.0f%%", outcome.Confidence*100),
		outcome.Level,
	})
	table.Render()

	fmt.Fprintf(p.out, "\n%s\n\n[%s]\n", PlainText(outcome.Explanation.Text), outcome.Explanation.Source)
}
