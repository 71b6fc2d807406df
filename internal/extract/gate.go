package extract

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

// ResumeGate blocks until a human signals that a manual intervention
// (challenge solved, page refreshed) is done. Modeled as an interface
// so tests can inject a resume event instead of a real operator.
type ResumeGate interface {
	Wait(ctx context.Context) error
}

// StdinGate resumes when the operator presses enter.
type StdinGate struct{}

func (StdinGate) Wait(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, ">> manual intervention required: resolve it in the browser, then press enter to resume")

	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		done <- scanner.Err()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
