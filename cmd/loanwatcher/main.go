package main

import (
	"github.com/joho/godotenv"

	"overdue-loan-alerts/internal/cli"
)

func main() {
	// Best effort; secrets may come from the real environment instead.
	_ = godotenv.Load()

	cli.Execute()
}
