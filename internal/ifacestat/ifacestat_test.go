package ifacestat

import "testing"

func TestCounterString(t *testing.T) {
	cases := map[Counter]string{
		TxPackets: "tx_packets_phy",
		TxBytes:   "tx_bytes_phy",
		RxPackets: "rx_packets_phy",
		RxBytes:   "rx_bytes_phy",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("Counter(%d).String() = %q, want %q", c, got, want)
		}
	}
}

func TestStatsSince(t *testing.T) {
	old := Stats{"eth0": {TxPackets: 10, TxBytes: 1000}}
	cur := Stats{"eth0": {TxPackets: 25, TxBytes: 2500}}

	diff := cur.Since(old)
	if diff["eth0"][TxPackets] != 15 {
		t.Errorf("TxPackets diff = %d, want 15", diff["eth0"][TxPackets])
	}
	if diff["eth0"][TxBytes] != 1500 {
		t.Errorf("TxBytes diff = %d, want 1500", diff["eth0"][TxBytes])
	}
}

func TestMonitorStartStopNoInterfaces(t *testing.T) {
	m := NewMonitor(nil, 0, nil)
	m.Start()
	m.Stop() // must not block or panic with no interfaces configured
}
