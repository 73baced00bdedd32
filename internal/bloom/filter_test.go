package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)

	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("record-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		if !f.Contains([]byte(fmt.Sprintf("record-%d", i))) {
			t.Fatalf("record-%d missing after Add", i)
		}
	}
	if f.Count() != 1000 {
		t.Errorf("count = %d", f.Count())
	}
}

func TestFilter_FalsePositiveRateBounded(t *testing.T) {
	f := NewWithEstimates(10000, 0.01)
	for i := 0; i < 10000; i++ {
		f.Add([]byte(fmt.Sprintf("seen-%d", i)))
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if f.Contains([]byte(fmt.Sprintf("unseen-%d", i))) {
			falsePositives++
		}
	}
	// Target is 1%; allow generous slack for hash variance
	if rate := float64(falsePositives) / float64(probes); rate > 0.05 {
		t.Errorf("observed false positive rate %.4f too high", rate)
	}
	if est := f.FalsePositiveRate(); est <= 0 || est > 0.05 {
		t.Errorf("estimated false positive rate %.4f out of range", est)
	}
}

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	if bits < 9000 || bits > 10000 {
		t.Errorf("numBits = %d, want ~9586", bits)
	}
	if hashes != 7 {
		t.Errorf("numHashes = %d, want 7", hashes)
	}
}

func TestFilter_SerializeRoundTrip(t *testing.T) {
	f := NewWithEstimates(500, 0.01)
	for i := 0; i < 500; i++ {
		f.Add([]byte(fmt.Sprintf("id-%d", i)))
	}

	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if restored.Count() != f.Count() {
		t.Errorf("count = %d, want %d", restored.Count(), f.Count())
	}
	for i := 0; i < 500; i++ {
		if !restored.Contains([]byte(fmt.Sprintf("id-%d", i))) {
			t.Fatalf("id-%d missing after round-trip", i)
		}
	}
}

func TestDeserialize_RejectsTruncated(t *testing.T) {
	if _, err := Deserialize([]byte("short")); err == nil {
		t.Error("expected error for truncated data")
	}
}
