package main

import (
	"github.com/PolyGo-Capstone-Project/polygo-meet/cmd"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
