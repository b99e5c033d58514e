package socketio

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const connectTimeout = 15 * time.Second

// transport is the wire the connector talks through.
type transport interface {
	emit(event string, payload map[string]any)
	close()
}

// socketTransport is a connected socket.io client.
type socketTransport struct {
	io     *socket.Socket
	logger *slog.Logger
}

func (t *socketTransport) emit(event string, payload map[string]any) {
	t.io.Emit(event, payload)
}

func (t *socketTransport) close() {
	t.logger.Info("Closing socket.io connection.", "sid", t.io.Id())
	t.io.Disconnect()
}

// dial connects to the service and routes every reply event to onReply.
// It waits for the connect or connect_error event.
func dial(ctx context.Context, logger *slog.Logger, s settings, onReply func(...any)) (*socketTransport, error) {
	parsedURL, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if s.insecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(s.namespace, opts)

	io.On(types.EventName(s.queryReply), onReply)
	if s.eraseReply != s.queryReply {
		io.On(types.EventName(s.eraseReply), onReply)
	}

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to socket.io service.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	logger.Debug("Initiating socket.io connection.")
	io.Connect()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &socketTransport{io: io, logger: logger}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}
