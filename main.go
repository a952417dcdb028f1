package main

import "github.com/jmehdipour/booking-saga/cmd"

func main() {
	cmd.Execute()
}
