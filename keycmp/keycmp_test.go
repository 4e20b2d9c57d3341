package keycmp

import "testing"

func TestForKindValidatesKeySize(t *testing.T) {
	cases := []struct {
		kind    Kind
		size    int
		wantErr bool
	}{
		{String, 3, true},
		{String, 4, false},
		{String, 128, false},
		{String, 129, true},
		{Bytes, 16, false},
		{Int32, 4, false},
		{Int32, 8, true},
		{Int64, 8, false},
		{Int64, 4, true},
		{Kind(99), 4, true},
	}
	for _, c := range cases {
		_, err := ForKind(c.kind, c.size)
		if (err != nil) != c.wantErr {
			t.Errorf("ForKind(%v, %d): err=%v, wantErr=%v", c.kind, c.size, err, c.wantErr)
		}
	}
}

func TestCmpStringStopsAtTerminator(t *testing.T) {
	cmp, err := ForKind(String, 8)
	if err != nil {
		t.Fatal(err)
	}
	a := PadString([]byte("abc"), 8)
	b := []byte("abc\x00garb")
	if cmp(a, b) != 0 {
		t.Fatalf("expected equal strings, got cmp=%d", cmp(a, b))
	}

	c := PadString([]byte("abd"), 8)
	if cmp(a, c) >= 0 {
		t.Fatalf("expected a<c, got cmp=%d", cmp(a, c))
	}
}

func TestCmpBytesIsLexicographic(t *testing.T) {
	cmp, _ := ForKind(Bytes, 4)
	if cmp([]byte{1, 2, 3, 4}, []byte{1, 2, 3, 5}) >= 0 {
		t.Fatal("expected first operand to sort before second")
	}
	if cmp([]byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}) != 0 {
		t.Fatal("expected equal byte keys to compare equal")
	}
}

func TestCmpInt32HandlesNegatives(t *testing.T) {
	cmp, _ := ForKind(Int32, 4)
	neg := EncodeInt32(-1)
	pos := EncodeInt32(1)
	if cmp(neg, pos) >= 0 {
		t.Fatal("expected -1 < 1 under signed comparison")
	}
	// Regression guard: the original C comparator subtracts the two
	// int32 values directly, which overflows for this exact pair. The Go
	// comparator must compare, not subtract.
	if cmp(EncodeInt32(-2000000000), EncodeInt32(2000000000)) >= 0 {
		t.Fatal("signed comparison must not overflow like C's subtraction-based cmp_int32")
	}
}

func TestCmpInt64HandlesNegatives(t *testing.T) {
	cmp, _ := ForKind(Int64, 8)
	if cmp(EncodeInt64(-1), EncodeInt64(1)) >= 0 {
		t.Fatal("expected -1 < 1 under signed comparison")
	}
	if cmp(EncodeInt64(1), EncodeInt64(1)) != 0 {
		t.Fatal("expected equal int64 keys to compare equal")
	}
}

func TestKindString(t *testing.T) {
	for _, k := range []Kind{String, Bytes, Int32, Int64} {
		if k.String() == "" {
			t.Fatalf("Kind(%d).String() returned empty string", k)
		}
	}
}
