package visitors

import "fmt"

// Diagnostic is a non-fatal finding: an idiom that was not recognised or a
// rewrite that was skipped. The affected subtree is left as it was.
type Diagnostic struct {
	Stage   string
	Message string
}

func (d Diagnostic) String() string {
	return d.Stage + ": " + d.Message
}

type diagnostics struct {
	stage string
	list  []Diagnostic
}

func (d *diagnostics) addf(format string, args ...any) {
	d.list = append(d.list, Diagnostic{Stage: d.stage, Message: fmt.Sprintf(format, args...)})
}
