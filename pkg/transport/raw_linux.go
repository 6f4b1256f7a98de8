package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"golang.org/x/sys/unix"
)

type RawConfig struct {
	Interface string
	// Port is the local UDP port: 67 for servers, 68 for clients.
	Port uint16
	// Source is the IPv4 source address; unspecified when unset.
	Source netip.Addr
}

// RawConn exchanges Ethernet frames on an AF_PACKET socket, so it can
// reach clients that have no address and send before the host has one.
// Unicast IP destinations without a known MAC go out as L2 broadcast.
type RawConn struct {
	cfg     RawConfig
	fd      int
	ifindex int
	hwaddr  net.HardwareAddr
	buf     []byte
	closed  atomic.Bool
	logger  *slog.Logger

	mu  sync.RWMutex
	src netip.Addr
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

func ListenRaw(cfg RawConfig) (*RawConn, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", cfg.Interface, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s: not ethernet", cfg.Interface)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_IP)))
	if err != nil {
		return nil, fmt.Errorf("packet socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_IP), Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", cfg.Interface, err)
	}
	tv := unix.NsecToTimeval(readPoll.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("SO_RCVTIMEO: %w", err)
	}

	c := &RawConn{
		cfg:     cfg,
		fd:      fd,
		ifindex: ifi.Index,
		hwaddr:  ifi.HardwareAddr,
		buf:     make([]byte, maxDatagram),
		logger:  logger.Get(logger.Transport),
		src:     cfg.Source,
	}
	c.logger.Info("Raw socket open", "interface", cfg.Interface, "mac", ifi.HardwareAddr, "port", cfg.Port)
	return c, nil
}

func (c *RawConn) HardwareAddr() net.HardwareAddr { return c.hwaddr }

// SetSource changes the IPv4 source address of sent frames.
func (c *RawConn) SetSource(addr netip.Addr) {
	c.mu.Lock()
	c.src = addr
	c.mu.Unlock()
}

func (c *RawConn) source() netip.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.src.IsValid() {
		return netip.IPv4Unspecified()
	}
	return c.src
}

func (c *RawConn) Receive(ctx context.Context) (*Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}

		n, _, err := unix.Recvfrom(c.fd, c.buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if c.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("recvfrom: %w", err)
		}

		d, ok := parseFrame(c.buf[:n], c.cfg.Port)
		if !ok {
			continue
		}
		d.Interface = c.cfg.Interface
		return d, nil
	}
}

func (c *RawConn) Send(ctx context.Context, payload []byte, dst dhcp.Destination) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}

	dstMAC := broadcastMAC
	if len(dst.HWAddr) == 6 {
		dstMAC = dst.HWAddr
	}

	frame, err := buildFrame(c.hwaddr, dstMAC, netip.AddrPortFrom(c.source(), c.cfg.Port), dst.Addr, payload)
	if err != nil {
		return err
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  c.ifindex,
		Halen:    6,
	}
	copy(sa.Addr[:], dstMAC)
	if err := unix.Sendto(c.fd, frame, 0, sa); err != nil {
		return fmt.Errorf("sendto %s: %w", dst.Addr, err)
	}
	return nil
}

func (c *RawConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Debug("Closing raw socket", "interface", c.cfg.Interface)
	return unix.Close(c.fd)
}
