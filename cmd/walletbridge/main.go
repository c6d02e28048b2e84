// Command walletbridge serves a wallet provider to dapps over the hot
// ostrich protocol and talks to providers from the command line.
package main

func main() {
	Execute()
}
