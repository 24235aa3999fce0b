package httpmiddleware

import (
	"testing"
	"time"
)

func TestTokenBucket_AllowsUpToCapacity(t *testing.T) {
	l := NewTokenBucket(10)
	now := time.Now()
	for i := 0; i < 10; i++ {
		if !l.allow("1.2.3.4", now) {
			t.Fatalf("request %d denied under capacity", i+1)
		}
	}
	if l.allow("1.2.3.4", now) {
		t.Fatalf("request over capacity allowed")
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	l := NewTokenBucket(60) // one token per second
	now := time.Now()
	for i := 0; i < 60; i++ {
		l.allow("1.2.3.4", now)
	}
	if l.allow("1.2.3.4", now) {
		t.Fatalf("exhausted bucket allowed a request")
	}
	if !l.allow("1.2.3.4", now.Add(2*time.Second)) {
		t.Fatalf("bucket did not refill after 2s")
	}
}

func TestTokenBucket_IsolatesClients(t *testing.T) {
	l := NewTokenBucket(1)
	now := time.Now()
	if !l.allow("a", now) {
		t.Fatalf("first client denied")
	}
	if !l.allow("b", now) {
		t.Fatalf("second client shares first client's bucket")
	}
}
