package dhcp

import "fmt"

type OpCode uint8

const (
	OpBootRequest OpCode = 1
	OpBootReply   OpCode = 2
)

func (o OpCode) String() string {
	switch o {
	case OpBootRequest:
		return "BOOTREQUEST"
	case OpBootReply:
		return "BOOTREPLY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
	}
}

type MessageType uint8

const (
	MessageTypeNone MessageType = 0
	DHCPDiscover    MessageType = 1
	DHCPOffer       MessageType = 2
	DHCPRequest     MessageType = 3
	DHCPDecline     MessageType = 4
	DHCPAck         MessageType = 5
	DHCPNak         MessageType = 6
	DHCPRelease     MessageType = 7
	DHCPInform      MessageType = 8
)

func (mt MessageType) String() string {
	switch mt {
	case DHCPDiscover:
		return "DHCPDISCOVER"
	case DHCPOffer:
		return "DHCPOFFER"
	case DHCPRequest:
		return "DHCPREQUEST"
	case DHCPDecline:
		return "DHCPDECLINE"
	case DHCPAck:
		return "DHCPACK"
	case DHCPNak:
		return "DHCPNAK"
	case DHCPRelease:
		return "DHCPRELEASE"
	case DHCPInform:
		return "DHCPINFORM"
	case MessageTypeNone:
		return "BOOTP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(mt))
	}
}

func (mt MessageType) Valid() bool {
	return mt >= DHCPDiscover && mt <= DHCPInform
}

// IsClientMessage reports whether mt is sent by clients to servers.
func (mt MessageType) IsClientMessage() bool {
	switch mt {
	case DHCPDiscover, DHCPRequest, DHCPDecline, DHCPRelease, DHCPInform:
		return true
	}
	return false
}

type OptionCode uint8

const (
	OptionPad                   OptionCode = 0
	OptionSubnetMask            OptionCode = 1
	OptionTimeOffset            OptionCode = 2
	OptionRouter                OptionCode = 3
	OptionDomainNameServer      OptionCode = 6
	OptionHostName              OptionCode = 12
	OptionDomainName            OptionCode = 15
	OptionInterfaceMTU          OptionCode = 26
	OptionBroadcastAddress      OptionCode = 28
	OptionNTPServers            OptionCode = 42
	OptionVendorSpecific        OptionCode = 43
	OptionRequestedIPAddress    OptionCode = 50
	OptionIPAddressLeaseTime    OptionCode = 51
	OptionOverload              OptionCode = 52
	OptionDHCPMessageType       OptionCode = 53
	OptionServerIdentifier      OptionCode = 54
	OptionParameterRequestList  OptionCode = 55
	OptionMessage               OptionCode = 56
	OptionMaximumMessageSize    OptionCode = 57
	OptionRenewalTimeValue      OptionCode = 58
	OptionRebindingTimeValue    OptionCode = 59
	OptionVendorClassIdentifier OptionCode = 60
	OptionClientIdentifier      OptionCode = 61
	OptionRelayAgentInformation OptionCode = 82
	OptionClasslessStaticRoute  OptionCode = 121
	OptionEnd                   OptionCode = 255
)

func (c OptionCode) String() string {
	if spec, ok := registry[c]; ok {
		return spec.Name
	}
	switch c {
	case OptionPad:
		return "Pad"
	case OptionEnd:
		return "End"
	}
	return fmt.Sprintf("Option(%d)", uint8(c))
}
