package main

import "github.com/arcward/craftcord/cmd"

func main() {
	cmd.Execute()
}
