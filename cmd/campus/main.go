// Package main is the entry point for the campus CLI.
package main

import "github.com/campusconnect/campus-cli/internal/cli"

func main() {
	cli.Execute()
}
