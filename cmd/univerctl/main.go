package main

import "github.com/FeruzLatifov/univer-front-sub000/cmd/univerctl/cmd"

func main() {
	cmd.Execute()
}
