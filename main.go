package main

import (
	"example.com/backstage/services/changeorder/cmd"
)

func main() {
	// Execute the root command
	cmd.Execute()
}
