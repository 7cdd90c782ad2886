/*
Copyright © 2024 Dean
*/
package main

import "rageval/cmd"

func main() {
	cmd.Execute()
}
