//go:build !windows

package authpipe

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SpawnedPipe pairs a Pipe (the parent's end, as a net.Conn with deadline
// support) with the file descriptor to hand the about-to-be-forked helper
// as fd 3.
type SpawnedPipe struct {
	*Pipe
	ChildFile *os.File
}

// NewSpawnedPipe creates a connected pair of unix-domain sockets: one kept
// as the parent's framed Pipe, the other returned as a raw *os.File meant
// for exec.Cmd.ExtraFiles[0] (which the child sees as fd 3).
func NewSpawnedPipe(id string, conversationTimeout, idleTimeout time.Duration) (*SpawnedPipe, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("authpipe: socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "authpipe-parent")
	childFile := os.NewFile(uintptr(fds[1]), "authpipe-child")

	parentConn, err := net.FileConn(parentFile)
	if err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("authpipe: wrap parent fd: %w", err)
	}
	// net.FileConn dup'd the fd; release our copy.
	parentFile.Close()

	pipe := newPipe(id, parentConn, conversationTimeout, idleTimeout)
	return &SpawnedPipe{Pipe: pipe, ChildFile: childFile}, nil
}
