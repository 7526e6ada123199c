// Command pharmagate runs the pharmacy marketplace security gateway.
package main

import "github.com/pharmalink/pharmagate/cmd/pharmagate/cmd"

func main() {
	cmd.Execute()
}
