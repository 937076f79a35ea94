package main

import "poolnet/internal/poolctl/cmd"

func main() {
	cmd.Execute()
}
