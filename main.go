package main

import "github.com/predicateautomate/drugsync/cmd"

func main() {
	cmd.Execute()
}
