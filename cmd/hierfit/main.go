package main

import (
	"fmt"
	"os"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hierfit: %v\n", err)
		os.Exit(1)
	}
}
