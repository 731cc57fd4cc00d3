package main

import (
	"os"

	appLog "calgrid/internal/log"
)

func main() {
	err := newRootCommand().Execute()
	appLog.Sync()
	if err != nil {
		os.Exit(1)
	}
}
