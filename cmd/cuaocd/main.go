// Command cuaocd is the CLI surface named by spec.md §6: "serve" runs
// the dual-transport proxy, "run" executes one run against a
// pre-provisioned computer. Grounded on the teacher orchestrator's
// main.go wiring (config → provisioner → servers → signal-driven
// graceful shutdown) and TaskWing's cobra root-command structure.
package main

import "os"

func main() {
	os.Exit(Execute())
}
