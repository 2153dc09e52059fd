// bcpnode runs a backpressure collection network in a single process: one
// goroutine per simulated node sharing an in-memory broadcast medium, a
// Prometheus metrics endpoint, and an interactive operator shell.
package main

import (
	"os"

	"github.com/bcpnet/gobcp/cmd/bcpnode/commands"
)

func main() {
	os.Exit(commands.Execute())
}
