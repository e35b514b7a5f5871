package mcsdev

import "testing"

func TestIOWConstantsMatchKernelHeader(t *testing.T) {
	// mcs_km.c: IOC_SENDIPI _IOW('A',0,int), IOC_CPUON _IOW('A',1,int),
	// IOC_AFFINITY_INFO _IOW('A',2,int) — sizeof(int) == 4.
	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"IOC_SENDIPI", iocSendIPI, 0x40044100},
		{"IOC_CPUON", iocCPUOn, 0x40044101},
		{"IOC_AFFINITY_INFO", iocAffinityInfo, 0x40044102},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}
}

func TestFakePowerOnClearsOffState(t *testing.T) {
	f := NewFake(3)
	if state, err := f.AffinityInfo(3); err != nil || state != AffinityOff {
		t.Fatalf("AffinityInfo(3) = (%v, %v), want (AffinityOff, nil)", state, err)
	}
	if err := f.PowerOn(3, 0x80000000); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if f.PoweredOn[3] != 0x80000000 {
		t.Errorf("PoweredOn[3] = %#x, want %#x", f.PoweredOn[3], uint64(0x80000000))
	}
	if state, err := f.AffinityInfo(3); err != ErrNotOff || state != AffinityOn {
		t.Errorf("AffinityInfo(3) after PowerOn = (%v, %v), want (AffinityOn, ErrNotOff)", state, err)
	}
}

func TestFakeAffinityInfoRejectsCPUNotMarkedOff(t *testing.T) {
	f := NewFake() // no cpus off
	if _, err := f.AffinityInfo(0); err != ErrNotOff {
		t.Errorf("got %v, want ErrNotOff", err)
	}
}

func TestFakeSendIPICountsCalls(t *testing.T) {
	f := NewFake()
	f.SendIPI(1)
	f.SendIPI(1)
	f.SendIPI(2)
	if f.IPIs[1] != 2 || f.IPIs[2] != 1 {
		t.Errorf("IPIs = %+v, want {1:2, 2:1}", f.IPIs)
	}
}
