package main

import "github.com/killallgit/threadline/cmd"

func main() {
	cmd.Execute()
}
