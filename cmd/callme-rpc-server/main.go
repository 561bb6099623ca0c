// Command callme-rpc-server runs a voice call signaling node and exposes
// its session manager over JSON-RPC.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
