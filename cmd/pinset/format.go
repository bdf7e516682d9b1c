package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jward/pinset"
)

// annotationColumn is the width requirement lines are padded to before a
// "# via" comment.
const annotationColumn = 24

type formatOptions struct {
	annotate bool
	// header is the command line recorded at the top of the file.
	header string
}

// writeRequirements renders res as a pinned requirements file. Editable
// pins come first, then everything else by name.
func writeRequirements(w io.Writer, res *pinset.Result, opts formatOptions) {
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# This file is autogenerated by pinset")
	if opts.header != "" {
		fmt.Fprintln(w, "# To update, run:")
		fmt.Fprintln(w, "#")
		fmt.Fprintf(w, "#    %s\n", opts.header)
	}
	fmt.Fprintln(w, "#")

	pins := append([]pinset.Pin(nil), res.Pins...)
	sort.SliceStable(pins, func(i, j int) bool {
		if pins[i].Editable != pins[j].Editable {
			return pins[i].Editable
		}
		return pins[i].Name < pins[j].Name
	})
	for _, p := range pins {
		fmt.Fprintln(w, formatPin(p, opts.annotate))
	}
}

// formatPin renders one pin, with hash continuation lines when digests
// are attached.
func formatPin(p pinset.Pin, annotate bool) string {
	line := pinLine(p)
	comment := ""
	if annotate && len(p.Requirers) > 0 {
		comment = "# via " + strings.Join(p.Requirers, ", ")
	}

	if len(p.Hashes) == 0 {
		if comment == "" {
			return line
		}
		return fmt.Sprintf("%-*s  %s", annotationColumn, line, comment)
	}

	var b strings.Builder
	b.WriteString(line)
	for i, h := range p.Hashes {
		b.WriteString(" \\\n    --hash=")
		b.WriteString(h.String())
		if i == len(p.Hashes)-1 && comment != "" {
			b.WriteString("  ")
			b.WriteString(comment)
		}
	}
	return b.String()
}

func pinLine(p pinset.Pin) string {
	switch {
	case p.Editable:
		return "-e " + p.Locator
	case p.Locator != "":
		return p.Name + " @ " + p.Locator
	}
	name := p.Name
	if extras := p.Requirement.Extras; len(extras) > 0 {
		name += "[" + strings.Join(extras, ",") + "]"
	}
	return name + "==" + p.Version.String()
}
