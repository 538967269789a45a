// Command tripsaga books a car, a flight and a hotel as one saga and rolls
// the bookings back when any of them fails.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
