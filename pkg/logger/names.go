package logger

const (
	Main      = "main"
	Server    = "dhcpd"
	Client    = "dhcpc"
	Lease     = "lease"
	Transport = "transport"
	Ifmgr     = "ifmgr"
	Events    = "events"
	OpDB      = "opdb"
	API       = "api"
	Exporter  = "exporter"
)
