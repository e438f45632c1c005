package main

import (
	"net/http"
	"os"
)

type sweeper struct{}

func (sweeper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, p := range r.URL.Query()["stale"] {
		os.Remove(p)
	}
}

func main() {
	http.Handle("/sweep", sweeper{})
	_ = http.ListenAndServe("localhost:8080", nil)
}
