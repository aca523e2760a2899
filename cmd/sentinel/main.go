package main

import "github.com/JakeFAU/domain-sentinel/cmd"

func main() {
	cmd.Execute()
}
