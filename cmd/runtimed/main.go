package main

import "github.com/oshokin/inference-runtime/cmd/runtimed/cmd"

func main() {
	cmd.Execute()
}
