package session

import (
	"strings"
	"testing"
	"time"
)

func TestNewToken_LengthAndAlphabet(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		if len(tok) != TokenLength {
			t.Fatalf("token %q has length %d, want %d", tok, len(tok), TokenLength)
		}
		for _, r := range tok {
			if !strings.ContainsRune(tokenAlphabet, r) {
				t.Fatalf("token %q contains %q outside alphabet", tok, r)
			}
		}
		seen[tok] = true
	}
	// 200 draws from a 36^6 space all colliding would mean broken entropy.
	if len(seen) < 100 {
		t.Fatalf("only %d distinct tokens in 200 draws", len(seen))
	}
}

func TestNewToken_CoversAlphabet(t *testing.T) {
	// 400 draws yield 2400 characters; the odds of any of the 36 symbols
	// never appearing are astronomically small, so a miss means part of the
	// alphabet is unreachable.
	counts := make(map[rune]int)
	for i := 0; i < 400; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		for _, r := range tok {
			counts[r]++
		}
	}
	for _, r := range tokenAlphabet {
		if counts[r] == 0 {
			t.Fatalf("character %q never generated", r)
		}
	}
}

func TestTokenWindowContains(t *testing.T) {
	issued := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	expires := issued.Add(5 * time.Minute)
	s := &Session{TokenIssuedAt: issued, TokenExpiresAt: &expires}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before issue", issued.Add(-time.Second), false},
		{"at issue", issued, true},
		{"inside", issued.Add(time.Minute), true},
		{"at expiry", expires, true},
		{"just past expiry", expires.Add(time.Millisecond), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.TokenWindowContains(tc.at); got != tc.want {
				t.Fatalf("TokenWindowContains(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestTokenWindowContains_FallbackCeiling(t *testing.T) {
	issued := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	s := &Session{TokenIssuedAt: issued}

	if !s.TokenWindowContains(issued.Add(FallbackTokenTTL)) {
		t.Fatalf("exactly at fallback ceiling should be inside")
	}
	if s.TokenWindowContains(issued.Add(FallbackTokenTTL + time.Second)) {
		t.Fatalf("past fallback ceiling should be outside")
	}
}
