package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// best-effort: if no .env exists, continue with the real environment
	_ = godotenv.Load()

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
