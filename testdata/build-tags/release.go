//go:build !debug

package main

func dump(int) {}
