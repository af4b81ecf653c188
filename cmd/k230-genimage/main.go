package main

import "github.com/canmv/k230-image-tools/cmd/k230-genimage/cmd"

func main() {
	cmd.Execute()
}
