package main

import "github.com/benchtop-labs/lockin/cmd/lockin/cmd"

func main() {
	cmd.Execute()
}
