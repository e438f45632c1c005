package main

import "os"

//nolint:looptrace // bounded by the argument list
func cleanup(files []string) {
	for _, f := range files {
		os.Remove(f)
	}
}

func purge(files []string) {
	for _, f := range files {
		os.Remove(f)
	}
}

func main() {
	cleanup(os.Args[1:])
	purge(os.Args[1:])
}
