package main

import "github.com/moegi-dl/moegi/cmd"

func main() {
	cmd.Execute()
}
