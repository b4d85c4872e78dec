package main

import (
	"fmt"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/server"
)

func main() {
	s, err := server.NewServer()
	if err != nil {
		fmt.Println("failed to new server")
		return
	}
	s.Start()
}
