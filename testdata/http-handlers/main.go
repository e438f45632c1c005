package main

import (
	"net/http"
	"os"
)

type uploads struct{ dir string }

func (u *uploads) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := os.WriteFile(u.dir+"/last", nil, 0o600); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func main() {
	http.Handle("/upload", &uploads{dir: os.TempDir()})
	http.HandleFunc("/purge", func(w http.ResponseWriter, r *http.Request) {
		for _, f := range r.Form["file"] {
			os.Remove(f)
		}
	})
	_ = http.ListenAndServe("localhost:8080", nil)
}
