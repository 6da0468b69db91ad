package main

import (
	"log"

	"github.com/cvieirasp/webhookhub/cmd/whctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
