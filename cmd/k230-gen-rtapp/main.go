package main

import "github.com/canmv/k230-image-tools/cmd/k230-gen-rtapp/cmd"

func main() {
	cmd.Execute()
}
