// Command leasegc removes session leases whose owning process has died.
package main

import (
	"os"

	"github.com/paveg/leasegc/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
