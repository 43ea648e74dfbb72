package main

import "github.com/oshokin/inference-runtime/cmd/runtimectl/cmd"

func main() {
	cmd.Execute()
}
