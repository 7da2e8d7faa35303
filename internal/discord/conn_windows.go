// conn_windows.go implements Discord IPC discovery for Windows named pipes
// using go-winio. Stable, Canary and PTB builds share the discord-ipc-N names.

//go:build windows

package discord

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// pipeDialTimeout bounds each slot when ctx has no deadline. A busy pipe
// otherwise blocks until the server frees an instance.
const pipeDialTimeout = 2 * time.Second

// pipePaths lists the named pipe slots in probe order.
func pipePaths() []string {
	paths := make([]string, 0, maxIPCSlots)
	for i := range maxIPCSlots {
		paths = append(paths, fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i))
	}
	return paths
}

// connectToDiscord tries each pipe slot and returns the first that accepts.
func connectToDiscord(ctx context.Context) (net.Conn, error) {
	for _, path := range pipePaths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dialCtx, cancel := ctx, context.CancelFunc(func() {})
		if _, ok := ctx.Deadline(); !ok {
			dialCtx, cancel = context.WithTimeout(ctx, pipeDialTimeout)
		}
		conn, err := winio.DialPipeContext(dialCtx, path)
		cancel()
		if err == nil {
			return conn, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrIPCNotAvailable
}
