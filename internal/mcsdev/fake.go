package mcsdev

import "sync"

// Fake is an in-memory Device for tests, where there is no real /dev/mcs.
type Fake struct {
	mu        sync.Mutex
	off       map[uint32]bool
	PoweredOn map[uint32]uint64 // cpu -> boot address passed to PowerOn
	IPIs      map[uint32]int    // cpu -> SendIPI call count
}

// NewFake returns a Fake with every cpu in off initially reporting OFF.
func NewFake(off ...uint32) *Fake {
	f := &Fake{
		off:       make(map[uint32]bool),
		PoweredOn: make(map[uint32]uint64),
		IPIs:      make(map[uint32]int),
	}
	for _, cpu := range off {
		f.off[cpu] = true
	}
	return f
}

func (f *Fake) PowerOn(cpu uint32, bootAddr uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PoweredOn[cpu] = bootAddr
	f.off[cpu] = false
	return nil
}

func (f *Fake) SendIPI(cpu uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IPIs[cpu]++
	return nil
}

func (f *Fake) AffinityInfo(cpu uint32) (AffinityState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.off[cpu] {
		return AffinityOff, nil
	}
	return AffinityOn, ErrNotOff
}
