package main

import "os"

func main() {
	InitLogger()
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
