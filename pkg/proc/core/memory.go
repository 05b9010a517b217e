package core

import (
	"fmt"
)

// A splicedMemory represents a memory space formed from multiple regions,
// each of which may override previously added regions. For example, a
// program text mapped at 0x400000 can be added first and then be partially
// overwritten by a RW mapping captured later, by adding the RW mapping on
// top of it.
type splicedMemory struct {
	regions []memRegion
}

type memRegion struct {
	addr uint64
	data []byte
}

func (e memRegion) end() uint64 { return e.addr + uint64(len(e.data)) - 1 }

// Add adds a new region to the splicedMemory, which may override existing
// regions. The region keeps a reference to data.
func (r *splicedMemory) Add(addr uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	nr := memRegion{addr, data}
	end := nr.end()
	regions := make([]memRegion, 0, len(r.regions)+2)
	add := func(e memRegion) {
		if len(e.data) == 0 {
			return
		}
		regions = append(regions, e)
	}
	inserted := false
	// Walk through the list of regions, fixing up any that overlap and inserting the new one.
	for _, entry := range r.regions {
		entryEnd := entry.end()
		switch {
		case entryEnd < addr:
			// Entry is completely before the new region.
			add(entry)
		case end < entry.addr:
			// Entry is completely after the new region.
			if !inserted {
				add(nr)
				inserted = true
			}
			add(entry)
		case addr <= entry.addr && entryEnd <= end:
			// Entry is completely overwritten by the new region. Drop.
		case entry.addr < addr && entryEnd <= end:
			// New region overwrites the end of the entry.
			entry.data = entry.data[:addr-entry.addr]
			add(entry)
		case addr <= entry.addr && end < entryEnd:
			// New region overwrites the beginning of the entry.
			if !inserted {
				add(nr)
				inserted = true
			}
			overlap := end + 1 - entry.addr
			entry.data = entry.data[overlap:]
			entry.addr += overlap
			add(entry)
		case entry.addr < addr && end < entryEnd:
			// New region punches a hole in the entry. Split it in two and put the new region in the middle.
			add(memRegion{entry.addr, entry.data[:addr-entry.addr]})
			add(nr)
			add(memRegion{end + 1, entry.data[end+1-entry.addr:]})
			inserted = true
		default:
			panic(fmt.Sprintf("unhandled case: existing entry is %#x len %d, new is %#x len %d", entry.addr, len(entry.data), addr, len(data)))
		}
	}
	if !inserted {
		regions = append(regions, nr)
	}
	r.regions = regions
}

// access copies between buf and the memory starting at addr, stopping at
// the first unmapped byte. It returns the number of bytes copied.
func (r *splicedMemory) access(buf []byte, addr uint64, write bool) (int, error) {
	n := 0
	for _, entry := range r.regions {
		if len(buf) == 0 {
			break
		}
		if entry.end() < addr {
			continue
		}
		if entry.addr > addr {
			// hit unmapped area
			break
		}
		off := addr - entry.addr
		var pn int
		if write {
			pn = copy(entry.data[off:], buf)
		} else {
			pn = copy(buf, entry.data[off:])
		}
		n += pn
		buf = buf[pn:]
		addr += uint64(pn)
	}
	if n == 0 && len(buf) > 0 {
		return 0, fmt.Errorf("address %#x did not match any regions", addr)
	}
	return n, nil
}

// ReadMemory reads len(buf) bytes at addr. A read that runs into an
// unmapped area returns the number of bytes read before it.
func (r *splicedMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	return r.access(buf, addr, false)
}

// WriteMemory writes data at addr, stopping at the first unmapped byte.
func (r *splicedMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	return r.access(data, addr, true)
}
