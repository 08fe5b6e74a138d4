package procman

import (
	"fmt"
	"io"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/errors"
)

// printPlan writes what a run would start: one block per pipeline with its
// counts, prerequisites and resolved commands. Launch-time adjustments such
// as $<instance> are left as written.
func printPlan(w io.Writer, pipelines []config.PipelineConfig) error {
	var b strings.Builder
	for _, p := range pipelines {
		instances := fmt.Sprint(p.Instances)
		if p.Unbounded {
			instances = "*"
		}
		fmt.Fprintf(&b, "pipeline %s: instances %s, parallel %d\n", p.Identity, instances, p.Slots())
		if len(p.RequiredBy) > 0 {
			fmt.Fprintf(&b, "  required by: %s\n", strings.Join(p.RequiredBy, ", "))
		}
		for _, command := range p.Commands {
			fmt.Fprintf(&b, "  %s\n", strings.Join(command, " "))
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.NewIOError("failed to write dry run plan", err)
	}
	return nil
}
