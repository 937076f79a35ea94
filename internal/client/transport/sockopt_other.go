//go:build !darwin

package transport

// Linux 上 Go 运行时对非标准输出的 EPIPE 不会触发 SIGPIPE
func setNoSigPipe(int) error {
	return nil
}
