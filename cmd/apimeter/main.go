// Package main is the entry point for APIMeter.
package main

func main() {
	Execute()
}
