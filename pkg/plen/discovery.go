package plen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultPort          = 17264 // HTTP port of the control server
	DefaultDiscoveryPort = 17265
	discoveryMessage     = "plendiscovery1"
)

// DiscoveryResponder answers LAN discovery datagrams with the port of the
// control server.
type DiscoveryResponder struct {
	response string
	rSock    *net.UDPConn
	tSock    *net.UDPConn
	logger   log.FieldLogger
}

// NewDiscoveryResponder binds the discovery socket on addr:discoveryPort.
// serverPort is the HTTP port announced to clients.
func NewDiscoveryResponder(addr string, discoveryPort, serverPort int, logger log.FieldLogger) (*DiscoveryResponder, error) {
	listenAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, fmt.Sprint(discoveryPort)))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve discovery address: %w", err)
	}

	rSock, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("cannot bind receive socket: %w", err)
	}

	// Replies leave from an ephemeral port on the same interface.
	localAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, "0"))
	if err != nil {
		rSock.Close()
		return nil, err
	}
	tSock, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		rSock.Close()
		return nil, fmt.Errorf("cannot bind send socket: %w", err)
	}

	return &DiscoveryResponder{
		response: fmt.Sprintf(`{"ControlServerPort": %d}`, serverPort),
		rSock:    rSock,
		tSock:    tSock,
		logger:   logger,
	}, nil
}

// Addr returns the address the responder listens on.
func (d *DiscoveryResponder) Addr() net.Addr {
	return d.rSock.LocalAddr()
}

// Run serves discovery requests until ctx is cancelled, then releases the
// sockets.
func (d *DiscoveryResponder) Run(ctx context.Context) error {
	defer d.rSock.Close()
	defer d.tSock.Close()

	buf := make([]byte, 1024)

	d.logger.Debugf("Discovery responder started on %s", d.Addr())
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Wake up periodically to check for cancellation
		d.rSock.SetReadDeadline(time.Now().Add(time.Second))

		n, addr, err := d.rSock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			d.logger.Debugf("Error reading from socket: %v", err)
			continue
		}

		data := string(buf[:n])
		d.logger.Debugf("Received %s from %s", data, addr)

		if strings.Contains(data, discoveryMessage) {
			if _, err := d.tSock.WriteToUDP([]byte(d.response), addr); err != nil {
				d.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}
