package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/rt-technologie/freightd/cmd"
)

func main() {
	// Optional .env for local runs; absence is fine.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("load .env: %v", err)
		}
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
