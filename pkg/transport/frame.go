package transport

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// buildFrame wraps payload in Ethernet, IPv4 and UDP headers.
func buildFrame(srcMAC, dstMAC net.HardwareAddr, src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(src.Addr().AsSlice()),
		DstIP:    net.IP(dst.Addr().AsSlice()),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// parseFrame extracts the UDP payload of an IPv4 frame sent to port.
func parseFrame(data []byte, port uint16) (*Datagram, bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if ethLayer == nil || ipLayer == nil || udpLayer == nil {
		return nil, false
	}
	eth := ethLayer.(*layers.Ethernet)
	ip := ipLayer.(*layers.IPv4)
	udp := udpLayer.(*layers.UDP)
	if uint16(udp.DstPort) != port {
		return nil, false
	}

	srcIP, _ := netip.AddrFromSlice(ip.SrcIP.To4())
	dstIP, _ := netip.AddrFromSlice(ip.DstIP.To4())
	payload := make([]byte, len(udp.Payload))
	copy(payload, udp.Payload)

	return &Datagram{
		Payload: payload,
		Src:     netip.AddrPortFrom(srcIP, uint16(udp.SrcPort)),
		Dst:     netip.AddrPortFrom(dstIP, uint16(udp.DstPort)),
		SrcMAC:  append(net.HardwareAddr(nil), eth.SrcMAC...),
	}, true
}
