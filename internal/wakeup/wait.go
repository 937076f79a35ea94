package wakeup

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Forever 不超时
const Forever time.Duration = -1

const readable = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// Wait 等待 fds 中任意一个可读、wake 被触发或超时
//
// ready 为可读描述符在 fds 中的下标；woken 为 true 时 wake 已被清空。
// 两者都为空表示超时。wake 可以为 nil。
func Wait(timeout time.Duration, wake *Wakeup, fds ...int) (ready []int, woken bool, err error) {
	pfds := make([]unix.PollFd, 0, len(fds)+1)
	for _, fd := range fds {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if wake != nil {
		pfds = append(pfds, unix.PollFd{Fd: int32(wake.Fd()), Events: unix.POLLIN})
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ms := -1
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		n, err := unix.Poll(pfds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			return nil, false, nil
		}

		for i := range fds {
			if pfds[i].Revents&readable != 0 {
				ready = append(ready, i)
			}
		}
		if wake != nil && pfds[len(fds)].Revents&readable != 0 {
			wake.Drain()
			woken = true
		}
		return ready, woken, nil
	}
}
