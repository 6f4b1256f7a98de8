package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
)

// transaction is the per-request state threaded through the handlers.
type transaction struct {
	pkt    *dhcp4.Packet
	req    *dhcp.Message
	client lease.ClientID
	log    *slog.Logger
}

func (p *Provider) HandlePacket(ctx context.Context, pkt *dhcp4.Packet) (*dhcp4.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := pkt.Request()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dhcp4.ErrInvalidRequest, err)
	}
	if req.Op != dhcp.OpBootRequest {
		return nil, fmt.Errorf("%w: op %s", dhcp4.ErrInvalidRequest, req.Op)
	}

	client, err := clientIdentity(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dhcp4.ErrInvalidRequest, err)
	}

	tx := &transaction{
		pkt:    pkt,
		req:    req,
		client: client,
		log: logger.WithTransaction(p.logger, logger.TransactionAttrs{
			XID:       req.XID,
			ClientID:  client.String(),
			MAC:       req.HardwareAddr().String(),
			Interface: pkt.Interface,
			Message:   req.Type().String(),
		}),
	}

	mt, err := req.MessageType()
	if errors.Is(err, dhcp.ErrOptionNotFound) {
		if !p.settings.AllowBOOTP {
			return nil, fmt.Errorf("%w: BOOTP request", dhcp4.ErrUnsupported)
		}
		return p.handleBOOTP(tx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dhcp4.ErrInvalidRequest, err)
	}

	switch mt {
	case dhcp.DHCPDiscover:
		return p.handleDiscover(tx)
	case dhcp.DHCPRequest:
		return p.handleRequest(tx)
	case dhcp.DHCPDecline:
		return p.handleDecline(tx)
	case dhcp.DHCPRelease:
		return p.handleRelease(tx)
	case dhcp.DHCPInform:
		return p.handleInform(tx)
	default:
		return nil, fmt.Errorf("%w: %s from client", dhcp4.ErrUnsupported, mt)
	}
}

// clientIdentity is option 61 when sent, otherwise htype and chaddr.
func clientIdentity(m *dhcp.Message) (lease.ClientID, error) {
	typ, id, err := m.ClientIdentifier()
	switch {
	case err == nil:
		return lease.NewClientID(append([]byte{typ}, id...)), nil
	case errors.Is(err, dhcp.ErrOptionNotFound):
		if m.HLen == 0 {
			return "", fmt.Errorf("no client identifier and empty chaddr")
		}
		return lease.HardwareClientID(m.HType, m.HardwareAddr()), nil
	default:
		return "", err
	}
}

// leaseTime clamps the client's requested lease time to the configured
// bounds. Without a request the configured lease time applies.
func (p *Provider) leaseTime(req *dhcp.Message) time.Duration {
	d, err := req.LeaseTime()
	if err != nil || d <= 0 {
		return p.settings.LeaseTime
	}
	return min(max(d, p.settings.MinLeaseTime), p.settings.MaxLeaseTime)
}

func (p *Provider) leaseRequest(tx *transaction, addr netip.Addr) lease.Request {
	hostname, _ := tx.req.HostName()
	return lease.Request{
		ClientID: tx.client,
		HWAddr:   tx.req.HardwareAddr(),
		Hostname: hostname,
		Addr:     addr,
		Duration: p.leaseTime(tx.req),
		XID:      tx.req.XID,
	}
}

func (p *Provider) handleDiscover(tx *transaction) (*dhcp4.Packet, error) {
	requested, _ := tx.req.RequestedIP()

	l, err := p.store.Allocate(p.leaseRequest(tx, requested))
	if errors.Is(err, lease.ErrPoolExhausted) {
		tx.log.Warn("Pool exhausted", "pool", p.store.Pool().Name())
		if p.settings.ExhaustedPolicy == ip.ExhaustedNAK {
			return p.nak(tx, "no address available"), nil
		}
		return nil, fmt.Errorf("%w: pool %s", dhcp4.ErrPoolExhausted, p.store.Pool().Name())
	}
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	tx.log.Debug("Offering address", "address", l.Addr, "lease_time", l.Duration)
	return p.reply(tx, dhcp.DHCPOffer, &l), nil
}

// handleRequest classifies a REQUEST per RFC 2131 section 4.3.2.
func (p *Provider) handleRequest(tx *transaction) (*dhcp4.Packet, error) {
	req := tx.req
	requested, _ := req.RequestedIP()

	sid, err := req.ServerIdentifier()
	switch {
	case err == nil:
		return p.handleSelecting(tx, sid, requested)
	case !errors.Is(err, dhcp.ErrOptionNotFound):
		return nil, fmt.Errorf("%w: %w", dhcp4.ErrInvalidRequest, err)
	case req.CIAddr.IsValid():
		return p.handleRenewing(tx)
	case requested.IsValid():
		return p.handleInitReboot(tx, requested)
	default:
		return nil, fmt.Errorf("%w: request without server id, requested address or ciaddr", dhcp4.ErrInvalidRequest)
	}
}

func (p *Provider) handleSelecting(tx *transaction, sid, requested netip.Addr) (*dhcp4.Packet, error) {
	if sid != p.settings.ServerID {
		if l, ok := p.store.Lookup(tx.client); ok && l.State == lease.StateOffered {
			if _, err := p.store.Release(tx.client, l.Addr); err == nil {
				tx.log.Debug("Offer withdrawn, client selected another server", "address", l.Addr, "server_id", sid)
			}
		}
		return nil, fmt.Errorf("%w: %s", dhcp4.ErrNotForUs, sid)
	}

	if !requested.IsValid() {
		return nil, fmt.Errorf("%w: selecting without requested address", dhcp4.ErrInvalidRequest)
	}
	if tx.req.CIAddr.IsValid() {
		return nil, fmt.Errorf("%w: selecting with ciaddr set", dhcp4.ErrInvalidRequest)
	}

	return p.confirm(tx, requested)
}

func (p *Provider) handleInitReboot(tx *transaction, requested netip.Addr) (*dhcp4.Packet, error) {
	if !p.store.Pool().OnNetwork(requested) {
		return p.nak(tx, "requested address not on network"), nil
	}

	held, ok := p.store.Lookup(tx.client)
	if !ok {
		if p.boundElsewhere(tx.client, requested) {
			return p.nak(tx, "requested address in use"), nil
		}
		return nil, fmt.Errorf("%w: init-reboot for %s", dhcp4.ErrUnknownClient, requested)
	}
	if held.Addr != requested {
		return p.nak(tx, "requested address does not match lease"), nil
	}

	return p.confirm(tx, requested)
}

// handleRenewing covers RENEWING (unicast) and REBINDING (broadcast); both
// identify the lease by ciaddr.
func (p *Provider) handleRenewing(tx *transaction) (*dhcp4.Packet, error) {
	addr := tx.req.CIAddr

	held, ok := p.store.Lookup(tx.client)
	if !ok || held.Addr != addr {
		if p.boundElsewhere(tx.client, addr) {
			return p.nak(tx, "address leased to another client"), nil
		}
		return nil, fmt.Errorf("%w: renewal of %s", dhcp4.ErrUnknownClient, addr)
	}

	return p.confirm(tx, addr)
}

func (p *Provider) boundElsewhere(client lease.ClientID, addr netip.Addr) bool {
	l, ok := p.store.Get(addr)
	return ok && l.State == lease.StateBound && l.ClientID != client
}

func (p *Provider) confirm(tx *transaction, addr netip.Addr) (*dhcp4.Packet, error) {
	l, err := p.store.Confirm(p.leaseRequest(tx, addr))
	if errors.Is(err, lease.ErrAllocationConflict) {
		tx.log.Info("Request conflicts with lease table", "address", addr, "error", err)
		return p.nak(tx, "requested address not available"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}

	tx.log.Info("Lease bound", "address", l.Addr, "lease_time", l.Duration, "expires", l.Expires)
	return p.reply(tx, dhcp.DHCPAck, &l), nil
}

func (p *Provider) handleDecline(tx *transaction) (*dhcp4.Packet, error) {
	if err := p.checkServerID(tx.req); err != nil {
		return nil, err
	}

	addr, err := tx.req.RequestedIP()
	if err != nil {
		return nil, fmt.Errorf("%w: decline without requested address", dhcp4.ErrInvalidRequest)
	}

	l, err := p.store.Decline(tx.client, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dhcp4.ErrUnknownClient, err)
	}

	msg, _ := tx.req.MessageText()
	tx.log.Warn("Address declined, quarantined until cleared", "address", addr, "reason", msg)
	return &dhcp4.Packet{Interface: tx.pkt.Interface, Lease: &l}, nil
}

func (p *Provider) handleRelease(tx *transaction) (*dhcp4.Packet, error) {
	if err := p.checkServerID(tx.req); err != nil {
		return nil, err
	}

	l, err := p.store.Release(tx.client, tx.req.CIAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dhcp4.ErrUnknownClient, err)
	}

	tx.log.Info("Lease released", "address", l.Addr)
	return &dhcp4.Packet{Interface: tx.pkt.Interface, Lease: &l}, nil
}

// handleInform answers with configuration only: no address, no lease time.
func (p *Provider) handleInform(tx *transaction) (*dhcp4.Packet, error) {
	if !tx.req.CIAddr.IsValid() {
		return nil, fmt.Errorf("%w: inform without ciaddr", dhcp4.ErrInvalidRequest)
	}
	return p.reply(tx, dhcp.DHCPAck, nil), nil
}

// handleBOOTP binds immediately for the maximum lease time.
func (p *Provider) handleBOOTP(tx *transaction) (*dhcp4.Packet, error) {
	req := p.leaseRequest(tx, netip.Addr{})
	req.Duration = p.settings.MaxLeaseTime

	l, err := p.store.Allocate(req)
	if errors.Is(err, lease.ErrPoolExhausted) {
		return nil, fmt.Errorf("%w: pool %s", dhcp4.ErrPoolExhausted, p.store.Pool().Name())
	}
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	req.Addr = l.Addr
	if l, err = p.store.Confirm(req); err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}

	tx.log.Info("BOOTP address assigned", "address", l.Addr)
	return p.reply(tx, dhcp.MessageTypeNone, &l), nil
}

func (p *Provider) checkServerID(req *dhcp.Message) error {
	sid, err := req.ServerIdentifier()
	if errors.Is(err, dhcp.ErrOptionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", dhcp4.ErrInvalidRequest, err)
	}
	if sid != p.settings.ServerID {
		return fmt.Errorf("%w: %s", dhcp4.ErrNotForUs, sid)
	}
	return nil
}
