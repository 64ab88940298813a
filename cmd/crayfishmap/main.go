package main

import "github.com/MeKo-Tech/crayfishmap/internal/cmd"

func main() {
	cmd.Execute()
}
