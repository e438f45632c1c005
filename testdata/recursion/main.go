package main

import (
	"os"
	"path/filepath"
)

func clean(dir string, depth int) {
	if depth == 0 {
		os.RemoveAll(dir)
		return
	}
	clean(filepath.Join(dir, "sub"), depth-1)
}

func main() {
	clean(os.TempDir(), 3)
}
