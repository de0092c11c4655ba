package main

import "github.com/jmcleod/clubhouse/cmd/clubhouse/cmd"

func main() {
	cmd.Execute()
}
