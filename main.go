package main

import "github.com/jmehdipour/aigen-gateway/cmd"

func main() {
	cmd.Execute()
}
