package dhcp

const (
	ServerPort = 67
	ClientPort = 68

	HeaderSize        = 236
	MagicCookie       = 0x63825363
	MinPacketSize     = 300
	MinMaxMessageSize = 576

	HTypeEthernet = 1
	HLenEthernet  = 6

	FlagBroadcast uint16 = 0x8000

	chaddrSize = 16
	snameSize  = 64
	fileSize   = 128

	optionsOffset = HeaderSize + 4
)

const (
	offOp     = 0
	offHType  = 1
	offHLen   = 2
	offHops   = 3
	offXID    = 4
	offSecs   = 8
	offFlags  = 10
	offCIAddr = 12
	offYIAddr = 16
	offSIAddr = 20
	offGIAddr = 24
	offCHAddr = 28
	offSName  = 44
	offFile   = 108
)
