package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// writeOutput renders value as indented JSON, or hands a tab writer to text for the text format.
func writeOutput(w io.Writer, format string, value any, text func(tw *tabwriter.Writer)) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func row(tw *tabwriter.Writer, label string, value any) {
	fmt.Fprintf(tw, "%s:\t%v\n", label, value)
}
