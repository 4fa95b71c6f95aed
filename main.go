package main

import "github.com/trymwestin/nexecur/cmd"

func main() {
	cmd.Execute()
}
