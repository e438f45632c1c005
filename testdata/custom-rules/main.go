package main

type Plugin interface{ Start() }

type store struct{ tables []string }

func (s *store) Drop(name string) {}

type migrator struct{ db *store }

func (m *migrator) Start() {
	for _, t := range m.db.tables {
		m.db.Drop(t)
	}
}

type noop struct{}

func (noop) Start() {}

func main() {
	plugins := []Plugin{&migrator{db: &store{}}, noop{}}
	for _, p := range plugins {
		p.Start()
	}
}
