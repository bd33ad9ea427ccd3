package main

import "github.com/Yates-Labs/tfguard/cmd"

func main() {
	cmd.Execute()
}
