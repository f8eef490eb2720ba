// Command meshd runs a single mesh node: it wires identity, the enabled
// C4 transports, and the MeshNetwork facade together and keeps the
// process alive until asked to stop.
//
// Grounded on the teacher's main.go (flag-driven wiring order: env →
// identity → network → discovery → servers → block-forever), restructured
// onto cobra subcommands the way SAGE-X-project-sage/cmd/sage-crypto does
// (rootCmd in this file, each subcommand registering itself via init() in
// its own file).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "meshd runs a peer-to-peer mesh networking node",
	Long: `meshd is a standalone node for the mesh network: encrypted
peer-to-peer messaging over direct (libp2p), local radio (encrypted UDP
multicast), and rendezvous (WebSocket supernode) transports, with a
Kademlia DHT, gossip-based discovery, multi-hop relay, and a
store-and-forward outbox for offline peers.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
