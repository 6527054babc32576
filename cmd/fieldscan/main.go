package main

import "github.com/fieldscan/fieldscan/cmd/fieldscan/commands"

func main() {
	commands.Execute()
}
