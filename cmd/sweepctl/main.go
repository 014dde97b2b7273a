// Package main provides the entry point for sweepctl, which runs the
// refresh and keep-alive sweeps by hand against a live database.
package main

import (
	"github.com/dalemusser/respondentpro/internal/sweepctl"
)

func main() {
	sweepctl.Execute()
}
