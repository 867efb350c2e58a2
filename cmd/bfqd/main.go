// Command bfqd runs the budget fair queueing scheduler core as a
// standalone daemon: it wires the engine to a synthetic workload
// generator and exposes its prometheus metrics over HTTP, for operators
// to exercise and observe the scheduler without a real block device.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "bfqd",
		Short: "Budget fair queueing scheduler daemon",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newTuneCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
