package main

import (
	"log"
	"os"
)

func main() {
	err := rootCmd.Execute()
	closeLogging()
	if err != nil {
		log.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
