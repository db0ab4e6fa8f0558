package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/harun/warden/pkg/contentscan"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printFindings(w io.Writer, findings []contentscan.Finding) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintln(w, "Findings:")
	for _, f := range findings {
		fmt.Fprintf(w, "  - [%s] %s: %s\n", f.Severity, f.Category, f.Description)
	}
}
