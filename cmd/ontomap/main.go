package main

import (
	"fmt"
	"os"

	"github.com/yungbote/ontomap-backend/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ontomap: %v\n", err)
		os.Exit(1)
	}
}
