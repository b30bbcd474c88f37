package main

import (
	"log"

	"covernet/services/assessord"
)

func main() {
	if err := assessord.Main(); err != nil {
		log.Fatalf("assessord: %v", err)
	}
}
