//go:build mage
// +build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binaryPath = "bin/room-client"

// Build compiles the room client into bin/.
func Build() error {
	return sh.RunV("go", "build", "-o", binaryPath, "./cmd/room-client")
}

// Test runs every package test with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs go vet across the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Check runs vet and the tests.
func Check() {
	mg.SerialDeps(Vet, Test)
}

// Run builds and starts the client joining the given room.
func Run(room string) error {
	mg.Deps(Build)
	fmt.Printf("joining room %s\n", room)
	return sh.RunV(binaryPath, "join", "--room", room)
}

// Clean removes build artifacts.
func Clean() error {
	return sh.Rm("bin")
}
