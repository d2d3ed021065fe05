// Command viperdosd hosts the ViperDOS kernel core as an ordinary
// process: it wires every subsystem together (capability tables, IPC,
// poll/pollset, the assign namespace, the scheduler) and exposes a small
// CLI for bringing it up and exercising it, since there is no bare-metal
// boot loader behind this hosted build (spec §1, §5.4).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
