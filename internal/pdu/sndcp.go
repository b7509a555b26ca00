package pdu

import (
	"fmt"
	"net/netip"
	"sync"
)

// SNDCPAction is the SNDCP_CTRL_DATA control PDU's action field (spec.md
// §4.7 "ACT_TDS_CTX (static vs. dynamic IPv4 allocation..., SU_NOT_
// PROVISIONED/DYN_IP_POOL_EMPTY rejects) and DEACT_TDS_CTX_REQ").
type SNDCPAction byte

const (
	ActActivateTDSContext SNDCPAction = iota
	ActDeactivateTDSContextReq
	ActDeactivateTDSContextAck
)

// SNDCPReject enumerates the ACT_TDS_CTX reject codes.
type SNDCPReject byte

const (
	RejectOK SNDCPReject = iota
	RejectSUNotProvisioned
	RejectDynIPPoolEmpty
)

// Context is one subscriber unit's SNDCP data-session state: the LLID
// it belongs to and the IPv4 address bound to it, statically assigned
// from the radio ACL or dynamically allocated from the pool.
type Context struct {
	LLID   uint32
	IP     netip.Addr
	Static bool
}

// Pool is the dynamic IPv4 address pool SNDCP allocates non-statically-
// provisioned subscriber units from (spec.md §4.7's "[sndcpStartAddr,
// sndcpEndAddr] range").
type Pool struct {
	mu        sync.Mutex
	next      netip.Addr
	end       netip.Addr
	free      []netip.Addr
	leasedBy  map[uint32]netip.Addr
	leasedFor map[netip.Addr]uint32
}

// NewPool constructs a dynamic pool covering [start, end] inclusive.
func NewPool(start, end netip.Addr) *Pool {
	return &Pool{
		next:      start,
		end:       end,
		leasedBy:  make(map[uint32]netip.Addr),
		leasedFor: make(map[netip.Addr]uint32),
	}
}

// NewPoolFromStrings parses start/end as dotted-quad IPv4 addresses and
// constructs the pool, the form internal/config's SNDCPConfig carries
// them in.
func NewPoolFromStrings(start, end string) (*Pool, error) {
	startAddr, err := netip.ParseAddr(start)
	if err != nil {
		return nil, fmt.Errorf("parsing sndcp dynamic start address %q: %w", start, err)
	}
	endAddr, err := netip.ParseAddr(end)
	if err != nil {
		return nil, fmt.Errorf("parsing sndcp dynamic end address %q: %w", end, err)
	}
	return NewPool(startAddr, endAddr), nil
}

// Lease allocates an address from the pool for llid, preferring any
// address freed by a prior Release before advancing the pool cursor.
// It returns RejectDynIPPoolEmpty once the range [start, end] and the
// free list are both exhausted.
func (p *Pool) Lease(llid uint32) (netip.Addr, SNDCPReject) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr, ok := p.leasedBy[llid]; ok {
		return addr, RejectOK
	}

	if n := len(p.free); n > 0 {
		addr := p.free[n-1]
		p.free = p.free[:n-1]
		p.leasedBy[llid] = addr
		p.leasedFor[addr] = llid
		return addr, RejectOK
	}

	if p.next.Compare(p.end) > 0 {
		return netip.Addr{}, RejectDynIPPoolEmpty
	}
	addr := p.next
	p.next = addr.Next()
	p.leasedBy[llid] = addr
	p.leasedFor[addr] = llid
	return addr, RejectOK
}

// Release returns llid's leased address, if any, to the free list.
func (p *Pool) Release(llid uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, ok := p.leasedBy[llid]
	if !ok {
		return
	}
	delete(p.leasedBy, llid)
	delete(p.leasedFor, addr)
	p.free = append(p.free, addr)
}

// Manager ties the radio ACL's static-IP assignment to the dynamic
// Pool, implementing ACT_TDS_CTX's allocation decision (spec.md §4.7).
type Manager struct {
	Radios RadioLookup
	Pool   *Pool

	mu       sync.Mutex
	contexts map[uint32]Context // LLID -> active context
}

// RadioLookup resolves a radio's ACL entry for SNDCP static-IP
// provisioning and enable checks.
type RadioLookup interface {
	LookupRadio(rid uint32) (enabled bool, staticIP string, ok bool)
}

// NewManager constructs a Manager backed by radios and pool.
func NewManager(radios RadioLookup, pool *Pool) *Manager {
	return &Manager{Radios: radios, Pool: pool, contexts: make(map[uint32]Context)}
}

// Activate processes an ACT_TDS_CTX request for llid. A radio not
// present (or disabled) in the ACL is rejected SU_NOT_PROVISIONED; a
// radio with a StaticIP assignment gets that address; otherwise an
// address is leased from the dynamic pool.
func (m *Manager) Activate(llid uint32) (Context, SNDCPReject, error) {
	enabled, staticIP, ok := m.Radios.LookupRadio(llid)
	if !ok || !enabled {
		return Context{}, RejectSUNotProvisioned, nil
	}

	var ctx Context
	if staticIP != "" {
		addr, err := netip.ParseAddr(staticIP)
		if err != nil {
			return Context{}, RejectOK, fmt.Errorf("sndcp: parsing static IP for llid %d: %w", llid, err)
		}
		ctx = Context{LLID: llid, IP: addr, Static: true}
	} else {
		addr, reject := m.Pool.Lease(llid)
		if reject != RejectOK {
			return Context{}, reject, nil
		}
		ctx = Context{LLID: llid, IP: addr, Static: false}
	}

	m.mu.Lock()
	m.contexts[llid] = ctx
	m.mu.Unlock()
	return ctx, RejectOK, nil
}

// Deactivate processes a DEACT_TDS_CTX_REQ for llid, releasing any
// dynamically-leased address back to the pool.
func (m *Manager) Deactivate(llid uint32) {
	m.mu.Lock()
	ctx, ok := m.contexts[llid]
	delete(m.contexts, llid)
	m.mu.Unlock()
	if ok && !ctx.Static {
		m.Pool.Release(llid)
	}
}

// Lookup returns llid's active SNDCP context, if any.
func (m *Manager) Lookup(llid uint32) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[llid]
	return ctx, ok
}
