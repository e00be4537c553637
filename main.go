package main

import "memrelay/cmd/memrelay/root"

func main() {
	root.Execute()
}
