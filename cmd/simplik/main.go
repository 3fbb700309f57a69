// Command simplik computes best-fit signal strengths, CLs values and upper
// limits for simplified-likelihood models.
//
// Usage:
//
//	simplik ul --config analysis.yaml
//	simplik cls --csv regions.csv --mu 12.5 --expected apriori
//	simplik muhat --config analysis.yaml --format json
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
