// Package main provides the mpbrowser binary: LAN and friend session
// discovery, the local save/replay catalog and direct connection requests.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mpbrowser:", err)
		os.Exit(1)
	}
}
