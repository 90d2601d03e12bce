package crypto

import "testing"

func TestParseHTTPRangeCases(t *testing.T) {
	const total = 1000

	tests := []struct {
		header    string
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"bytes=0-99", 0, 99, false},
		{"bytes=500-", 500, 999, false},
		{"bytes=-100", 900, 999, false},
		{"bytes=999-999", 999, 999, false},
		{"bytes=1000-1005", 0, 0, true},
		{"bytes=500-100", 0, 0, true},
		{"bad-header", 0, 0, true},
		{"bytes=0-10,20-30", 0, 0, true},
	}

	for _, tt := range tests {
		start, end, err := ParseHTTPRange(tt.header, total)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseHTTPRange(%q) expected error, got none", tt.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHTTPRange(%q) unexpected error: %v", tt.header, err)
			continue
		}
		if start != tt.wantStart || end != tt.wantEnd {
			t.Errorf("ParseHTTPRange(%q) = (%d, %d), want (%d, %d)", tt.header, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

func TestCiphertextRangeAlignsToChunkBoundary(t *testing.T) {
	const plainChunk = 100

	ctStart, skip := CiphertextRange(plainChunk, 250, 999)
	wantCTChunk := int64(2 * (plainChunk + TagSize))
	if ctStart != wantCTChunk {
		t.Errorf("CiphertextRange start = %d, want %d", ctStart, wantCTChunk)
	}
	if skip != 50 {
		t.Errorf("CiphertextRange skip = %d, want 50", skip)
	}
}
