package transport

import "golang.org/x/sys/unix"

func setNoSigPipe(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}
