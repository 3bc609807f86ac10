package local

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecryptRejectsTruncatedHeader(t *testing.T) {
	t.Parallel()

	keys, err := newKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 5, 20} {
		if _, err := decrypt(keys, make([]byte, n)); !errors.Is(err, errTruncatedHeader) {
			t.Errorf("len %d: err = %v, want truncated header", n, err)
		}
	}
}

func TestDecryptRejectsTinyRecordSize(t *testing.T) {
	t.Parallel()

	keys, err := newKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	body := make([]byte, saltLen+4+1)
	binary.BigEndian.PutUint32(body[saltLen:], 4)
	if _, err := decrypt(keys, body); !errors.Is(err, errBadRecordSize) {
		t.Fatalf("err = %v, want bad record size", err)
	}
}

func TestDecryptRejectsBogusSenderKey(t *testing.T) {
	t.Parallel()

	keys, err := newKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	body := make([]byte, saltLen+4+1+65)
	binary.BigEndian.PutUint32(body[saltLen:], 4096)
	body[saltLen+4] = 65
	// keyid stays all zeros, which is not a valid curve point.
	if _, err := decrypt(keys, body); !errors.Is(err, errBadSenderKey) {
		t.Fatalf("err = %v, want bad sender key", err)
	}
}

func TestRecordNonce(t *testing.T) {
	t.Parallel()

	base := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if got := recordNonce(base, 0); string(got) != string(base) {
		t.Errorf("seq 0 must leave nonce unchanged, got %v", got)
	}
	got := recordNonce(base, 1)
	want := append([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 11^1)
	if string(got) != string(want) {
		t.Errorf("seq 1 nonce = %v, want %v", got, want)
	}
}

func TestStripPadding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []byte
		last    bool
		want    string
		wantErr bool
	}{
		{"final record", []byte("hello\x02"), true, "hello", false},
		{"final with zeros", []byte("hello\x02\x00\x00"), true, "hello", false},
		{"middle record", []byte("part\x01"), false, "part", false},
		{"wrong delimiter", []byte("hello\x01"), true, "", true},
		{"all zeros", []byte{0, 0, 0}, true, "", true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := stripPadding(tc.in, tc.last)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr=%v", err, tc.wantErr)
			}
			if err == nil && string(got) != tc.want {
				t.Fatalf("content = %q, want %q", got, tc.want)
			}
		})
	}
}
