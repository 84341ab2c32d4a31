package main

import (
	"os"

	"github.com/vigil-archive/vigil/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
