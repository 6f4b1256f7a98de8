package dhcp

import (
	"net/netip"
	"testing"
)

func TestReplyDestination(t *testing.T) {
	yiaddr := netip.MustParseAddr("10.0.0.10")

	tests := []struct {
		name      string
		giaddr    string
		ciaddr    string
		broadcast bool
		reply     MessageType
		want      TxType
		wantAddr  string
	}{
		{"relayed offer", "192.0.2.1", "", false, DHCPOffer, TxRelay, "192.0.2.1:67"},
		{"relayed nak", "192.0.2.1", "", false, DHCPNak, TxRelay, "192.0.2.1:67"},
		{"nak", "", "10.0.0.10", false, DHCPNak, TxBroadcast, "255.255.255.255:68"},
		{"renewal ack", "", "10.0.0.10", false, DHCPAck, TxClientAddr, "10.0.0.10:68"},
		{"broadcast flag", "", "", true, DHCPOffer, TxBroadcast, "255.255.255.255:68"},
		{"unicast offer", "", "", false, DHCPOffer, TxHardwareAddr, "10.0.0.10:68"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest(DHCPRequest, 1, testMAC)
			req.SetBroadcast(tt.broadcast)
			if tt.giaddr != "" {
				req.GIAddr = netip.MustParseAddr(tt.giaddr)
			}
			if tt.ciaddr != "" {
				req.CIAddr = netip.MustParseAddr(tt.ciaddr)
			}

			reply := NewReply(req, tt.reply)
			if tt.reply != DHCPNak {
				reply.YIAddr = yiaddr
			}

			got := ReplyDestination(req, reply)
			if got.Type != tt.want {
				t.Fatalf("type = %v, want %v", got.Type, tt.want)
			}
			if got.Addr.String() != tt.wantAddr {
				t.Fatalf("addr = %v, want %v", got.Addr, tt.wantAddr)
			}
			if tt.reply == DHCPNak && tt.giaddr != "" && !reply.Broadcast() {
				t.Fatal("relayed NAK must set the broadcast bit")
			}
		})
	}
}
