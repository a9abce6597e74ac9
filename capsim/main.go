// Command capsim runs the capture engine against a simulated sensor.
package main

import (
	"github.com/sarchlab/capseq/capsim/cmd"
	"github.com/tebeka/atexit"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
