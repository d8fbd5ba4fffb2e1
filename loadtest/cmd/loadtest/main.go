// Command loadtest drives synthetic load against a running chat server.
//
// Subcommands:
//
//	saturate  ramp up idle connections and hold them
//	match     run N pairs through the matchmaking flow
//	chat      matched pairs exchange messages and measure relay latency
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "match":
		runMatch(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: loadtest <saturate|match|chat> [flags]")
	fmt.Fprintln(os.Stderr, "run 'loadtest <subcommand> -h' for flags")
}
