package dataplane

import (
	"net/netip"
	"sort"
)

// DefaultVRFID is the id of the default VRF.
const DefaultVRFID uint32 = 0

// -------------------------------------------------------------------------
// VRFs
// -------------------------------------------------------------------------

// VRFBackend selects how VRFs are realized on the host.
type VRFBackend uint8

const (
	// VRFBackendLite is the VRF-lite backend: one kernel table per VRF.
	VRFBackendLite VRFBackend = iota
	// VRFBackendNetNS realizes VRFs as network namespaces. Table-id
	// lookups are meaningless under this backend.
	VRFBackendNetNS
)

// VRF describes one VRF known to the engine.
type VRF struct {
	// ID is the VRF id.
	ID uint32

	// Name is the VRF device name.
	Name string

	// TableID is the kernel routing table bound to the VRF (VRF-lite).
	TableID uint32
}

// vrfRegistry holds the VRFs by id. Owned by the engine loop.
type vrfRegistry struct {
	backend VRFBackend
	byID    map[uint32]*VRF
}

func newVRFRegistry(backend VRFBackend) *vrfRegistry {
	return &vrfRegistry{backend: backend, byID: make(map[uint32]*VRF)}
}

func (r *vrfRegistry) upsert(v *VRF) { r.byID[v.ID] = v }

func (r *vrfRegistry) byTableID(tableID uint32) *VRF {
	// Under the netns backend VRFs are whole namespaces and a table id
	// does not select one.
	if r.backend == VRFBackendNetNS {
		return nil
	}
	ids := make([]uint32, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if r.byID[id].TableID == tableID {
			return r.byID[id]
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Interfaces
// -------------------------------------------------------------------------

// Interface is one link known to the engine, with its addresses.
type Interface struct {
	// Name is the link name.
	Name string

	// Index is the link index.
	Index int32

	// VRFID is the VRF the link belongs to.
	VRFID uint32

	// Addrs are the configured addresses.
	Addrs []netip.Prefix
}

// ifaceStore holds interfaces by name. Owned by the engine loop.
type ifaceStore struct {
	byName map[string]*Interface
}

func newIfaceStore() *ifaceStore {
	return &ifaceStore{byName: make(map[string]*Interface)}
}

func (s *ifaceStore) upsert(ifp *Interface) { s.byName[ifp.Name] = ifp }

func (s *ifaceStore) lookup(name string, vrfID uint32) *Interface {
	ifp := s.byName[name]
	if ifp == nil || ifp.VRFID != vrfID {
		return nil
	}
	return ifp
}

// addAddr appends addr to the interface, creating the interface if needed.
func (s *ifaceStore) addAddr(name string, index int32, vrfID uint32, addr netip.Prefix) *Interface {
	ifp := s.byName[name]
	if ifp == nil {
		ifp = &Interface{Name: name, Index: index, VRFID: vrfID}
		s.byName[name] = ifp
	}
	for _, a := range ifp.Addrs {
		if a == addr {
			return ifp
		}
	}
	ifp.Addrs = append(ifp.Addrs, addr)
	return ifp
}

// removeAddr drops addr from the interface, if present.
func (s *ifaceStore) removeAddr(name string, addr netip.Prefix) *Interface {
	ifp := s.byName[name]
	if ifp == nil {
		return nil
	}
	for i, a := range ifp.Addrs {
		if a == addr {
			ifp.Addrs = append(ifp.Addrs[:i], ifp.Addrs[i+1:]...)
			break
		}
	}
	return ifp
}
