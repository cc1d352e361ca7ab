package main

import "github.com/MeKo-Tech/texturemaps/internal/cmd"

func main() {
	cmd.Execute()
}
