package banner

import (
	"fmt"
	"io"
	"strings"
)

const logo = `
======================================================================
            __ _   _ _
  ___  ___ / _| |_| (_)_ __   ___
 / __|/ _ \ |_| __| | | '_ \ / _ \
 \__ \ (_) |  _| |_| | | | | |  __/
 |___/\___/|_|  \__|_|_|_| |_|\___|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine is one configuration line of the banner.
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the startup banner with the version and configuration.
func Print(w io.Writer, version string, config []ConfigLine) {
	fmt.Fprintln(w, logo)
	fmt.Fprintf(w, "softline %s\n", version)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}
	for _, c := range config {
		value := c.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(w, "  %s%s : %s\n", c.Label, strings.Repeat(" ", maxLen-len(c.Label)), value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
