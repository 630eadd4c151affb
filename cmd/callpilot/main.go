package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess  = 0 // Command completed
	ExitNoResult = 1 // Ran, but found nothing bookable or invalid catalog entries
	ExitError    = 2 // Configuration or runtime error
)

// NoResultError indicates that the command ran to completion but produced
// nothing usable, for example an empty shortlist.
type NoResultError struct {
	Message string
}

func (e *NoResultError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var noResult *NoResultError
		if errors.As(err, &noResult) {
			os.Exit(ExitNoResult)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
