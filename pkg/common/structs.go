package common

// MemInfo mirrors the 64-byte MemInfo structure from spec §6.2, returned by
// the MEM_INFO sysinfo syscall.
type MemInfo struct {
	TotalPages uint64
	FreePages  uint64
	UsedPages  uint64
	TotalBytes uint64
	FreeBytes  uint64
	UsedBytes  uint64
	PageSize   uint64
	_reserved  [8]byte
}

// NetStats mirrors spec §6.2's cumulative per-layer network counters. The
// counters are populated by the external network stack (out of scope for
// this repo, per §1); ViperDOS only defines the shape NET_STATS returns.
type NetStats struct {
	EthernetRx, EthernetTx uint64
	ARPRx, ARPTx           uint64
	IPv4Rx, IPv4Tx         uint64
	ICMPRx, ICMPTx         uint64
	UDPRx, UDPTx           uint64
	TCPRx, TCPTx           uint64
	DNSRx, DNSTx           uint64
	TLSRx, TLSTx           uint64
	ActiveConnections      uint64
	ListenSockets          uint64
}

// CapInfo mirrors spec §6.2's per-handle diagnostic tuple, returned by
// CAP_QUERY.
type CapInfo struct {
	Handle     uint32
	Kind       uint16
	Rights     uint32
	Generation uint8
}

// CapListEntry is one row of the CAP_LIST result.
type CapListEntry struct {
	Handle     uint32
	Kind       uint16
	Rights     uint32
	Generation uint8
}

// TaskInfo is a diagnostic snapshot of one task/thread.
type TaskInfo struct {
	ID    uint64
	Name  string
	State uint32
}

// TLSInfo mirrors spec §6.2's TLSInfo (hostname <=128B, protocol/cipher
// ids, verified/connected flags). Populated by the external TLS stack.
type TLSInfo struct {
	Hostname   [128]byte
	Protocol   uint16
	CipherSuit uint16
	Verified   bool
	Connected  bool
}

// AssignInfo mirrors spec §6.2's 64-byte AssignInfo returned by ASSIGN_LIST.
type AssignInfo struct {
	Name      [32]byte
	Handle    uint32
	Flags     uint32
	_reserved [24]byte
}

// FsDirEnt mirrors spec §6.2's directory entry shape returned by
// FS_READ_DIR.
type FsDirEnt struct {
	Inode    uint64
	Type     uint8
	NameLen  uint8
	Name     [255]byte
}
