package main

import "darkpool-indexer/cmd/indexer-cli/cmd"

func main() {
	cmd.Execute()
}
