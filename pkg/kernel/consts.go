package kernel

// Linux netlink ABI numbers. They are fixed by the kernel uapi headers and
// kept here so message building and parsing compile on every platform.
const (
	ProtoRoute   = 0  // NETLINK_ROUTE
	ProtoGeneric = 16 // NETLINK_GENERIC
)

const (
	// MaxFrameSize bounds a single outgoing request.
	MaxFrameSize = 4096
	// recvBufferSize fits the largest datagram the kernel sends for a dump.
	recvBufferSize = 32 << 10

	headerLen = 16
	errorLen  = 4
)

const (
	rtmNewLink  = 16
	rtmDelLink  = 17
	rtmNewAddr  = 20
	rtmDelAddr  = 21
	rtmNewRoute = 24
	rtmDelRoute = 25

	afUnspec = 0
	afInet   = 2
	afInet6  = 10

	ifaAddress = 1
	ifaLocal   = 2

	iflaIfname   = 3
	iflaMTU      = 4
	iflaLinkinfo = 18
	iflaInfoKind = 1

	iffUp = 0x1

	rtaDst = 1
	rtaOif = 4

	rtTableMain  = 254
	rtprotBoot   = 3
	rtScopeLink  = 253
	rtnUnicast   = 1
	ifaddrmsgLen = 8
	rtmsgLen     = 12
	ifinfomsgLen = 16
)

const (
	genlIDCtrl         = 0x10
	ctrlCmdGetFamily   = 3
	ctrlVersion        = 1
	ctrlAttrFamilyID   = 1
	ctrlAttrFamilyName = 2
)

func align(n int) int { return (n + 3) &^ 3 }
