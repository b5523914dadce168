// Command signavatar recognizes signs from holistic landmarks and drives an
// avatar pose, either for browser clients over WebSocket (serve) or from a
// local camera (run).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
