package main

import "github.com/archiflow-dev/archiflow/cmd"

func main() {
	cmd.Execute()
}
