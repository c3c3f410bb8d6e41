// Command rtsim runs thread scheduling scenarios on a simulated CPU.
package main

import (
	"fmt"
	"os"

	"github.com/joeycumines/go-rtsched/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
