package main

import (
	"log"

	"presshook/cmd/presshookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
