// Command harvester downloads every Tang poem envelope from the Sou-Yun open
// API and appends them, one JSON line each, to {OUTPUT_FOLDER}/poem.txt.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
