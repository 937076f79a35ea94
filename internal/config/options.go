package config

import (
	"poolnet/internal/client"
	"poolnet/internal/client/transport"
	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/protocol"
)

// ClientOptions 转换为 client.Option，调用前应已通过 Validate
func (c *ClientConfig) ClientOptions() ([]client.Option, error) {
	opts := []client.Option{
		client.WithHandshakeRetry(c.Handshake.MaxTries, c.Handshake.BackoffStep),
		client.WithDialTimeout(c.Dial.Timeout),
		client.WithSocketOptions(transport.SocketOptions{
			NoDelay:   c.Dial.NoDelay,
			TOS:       c.Dial.DSCP,
			NoSigPipe: true,
		}),
	}

	if len(c.Handshake.LegacyCommands) > 0 {
		cmds := make([]protocol.Command, len(c.Handshake.LegacyCommands))
		for i, code := range c.Handshake.LegacyCommands {
			cmds[i] = protocol.Command(code)
		}
		opts = append(opts, client.WithLegacyCommands(protocol.NewCommandSet(cmds...)))
	}

	if c.Dial.ResolverCacheSize > 0 {
		r := transport.NewCachingResolver(transport.SystemResolver{}, c.Dial.ResolverCacheSize, c.Dial.ResolverCacheTTL)
		opts = append(opts, client.WithResolver(r))
	}

	if c.TLS.CAFile != "" {
		pool, err := loadCAFile(c.TLS.CAFile)
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeConfigBadth, "load tls.ca_file")
		}
		opts = append(opts, client.WithRootCAs(pool))
	}
	if c.TLS.Certificate != "" && c.TLS.PrivateKey != "" {
		opts = append(opts, client.WithClientCertificate(c.TLS.Certificate, c.TLS.PrivateKey))
	}

	if c.Hose.Name != "" {
		opts = append(opts, client.WithHoseName(c.Hose.Name))
	}
	return opts, nil
}
