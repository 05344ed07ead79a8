/*
CLI for the Ethernet MAC conformance harness
*/
package main

import (
	"github.com/celskeggs/ethsim/ctrl/ethsim/commands"
)

func main() {
	commands.Execute()
}
