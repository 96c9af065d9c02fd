package checksum

import "testing"

func TestSumKnownDigest(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestSumDetectsChange(t *testing.T) {
	if Sum([]byte("thumbnail bytes")) == Sum([]byte("thumbnail bytes!")) {
		t.Error("different data produced the same digest")
	}
}
