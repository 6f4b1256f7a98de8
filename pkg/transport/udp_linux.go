package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"golang.org/x/sys/unix"
)

const (
	readPoll    = 500 * time.Millisecond
	maxDatagram = 65535
)

type UDPConfig struct {
	// Interface binds the socket with SO_BINDTODEVICE when set.
	Interface string
	Listen    netip.AddrPort
}

// UDPConn is a kernel UDP socket. It cannot reach a client that has no
// address yet except by broadcast. Receive must not be called
// concurrently.
type UDPConn struct {
	cfg    UDPConfig
	conn   *net.UDPConn
	buf    []byte
	logger *slog.Logger
}

func ListenUDP(ctx context.Context, cfg UDPConfig) (*UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, rc syscall.RawConn) error {
			var sockErr error
			err := rc.Control(func(fd uintptr) {
				sockErr = setUDPOptions(int(fd), cfg.Interface)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", cfg.Listen.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	return &UDPConn{
		cfg:    cfg,
		conn:   pc.(*net.UDPConn),
		buf:    make([]byte, maxDatagram),
		logger: logger.Get(logger.Transport),
	}, nil
}

func setUDPOptions(fd int, iface string) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("SO_BROADCAST: %w", err)
	}
	if iface != "" {
		if err := unix.BindToDevice(fd, iface); err != nil {
			return fmt.Errorf("SO_BINDTODEVICE %s: %w", iface, err)
		}
	}
	return nil
}

func (c *UDPConn) Receive(ctx context.Context) (*Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.conn.SetReadDeadline(time.Now().Add(readPoll))
		n, src, err := c.conn.ReadFromUDPAddrPort(c.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, c.buf[:n])
		return &Datagram{
			Payload:   payload,
			Src:       netip.AddrPortFrom(src.Addr().Unmap(), src.Port()),
			Dst:       c.cfg.Listen,
			Interface: c.cfg.Interface,
		}, nil
	}
}

func (c *UDPConn) Send(ctx context.Context, payload []byte, dst dhcp.Destination) error {
	if dst.Type == dhcp.TxHardwareAddr {
		return ErrHardwareUnicast
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	if _, err := c.conn.WriteToUDPAddrPort(payload, dst.Addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("write to %s: %w", dst.Addr, err)
	}
	return nil
}

func (c *UDPConn) Close() error {
	c.logger.Debug("Closing UDP socket", "listen", c.cfg.Listen)
	return c.conn.Close()
}
