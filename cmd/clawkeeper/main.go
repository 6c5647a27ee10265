package main

import "github.com/clawops/clawkeeper/cmd/clawkeeper/cmd"

func main() {
	cmd.Execute()
}
