package main

import (
	"os"
	"sync"
	"time"
)

var once sync.Once

func setup() {
	f, err := os.Create("lock")
	if err == nil {
		f.Close()
	}
}

func main() {
	once.Do(setup)
	for i := 0; i < 3; i++ {
		time.AfterFunc(time.Second, func() {
			os.Remove("lock")
		})
	}
	time.Sleep(2 * time.Second)
}
