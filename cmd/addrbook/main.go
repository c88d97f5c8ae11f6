// Command addrbook manages a directory of vCard contacts.
package main

import (
	"os"

	"github.com/mesh-intelligence/addrbook/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
