// Command qopy runs the qopy clipboard sharing server.
package main

import (
	"fmt"
	"os"

	"github.com/qopy-app/qopy/cmd/qopy/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
