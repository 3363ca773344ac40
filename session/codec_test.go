package session

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sess := testSession("tok-codec")
	sess.AgentID = strptr("agent-1")

	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != sess.ID || got.UserID != sess.UserID {
		t.Fatalf("identity lost: %+v", got)
	}
	if got.AgentID == nil || *got.AgentID != "agent-1" {
		t.Fatalf("association lost: %+v", got.AgentID)
	}
}

func TestDecodeCorruptBlob(t *testing.T) {
	_, err := Decode([]byte(`{"id": truncated`))
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestPayloadSizeCountsOnlyMutablePayload(t *testing.T) {
	sess := testSession("tok-size")
	base, err := PayloadSize(sess)
	if err != nil {
		t.Fatalf("payload size: %v", err)
	}

	// Bookkeeping fields never count against the quota.
	sess.AccessCount = 1 << 40
	sess.Permissions = []string{strings.Repeat("p", 4096)}
	after, err := PayloadSize(sess)
	if err != nil {
		t.Fatalf("payload size: %v", err)
	}
	if after != base {
		t.Fatalf("non-payload fields changed measurement: %d != %d", after, base)
	}

	sess.Context["note"] = strings.Repeat("x", 1000)
	grown, err := PayloadSize(sess)
	if err != nil {
		t.Fatalf("payload size: %v", err)
	}
	if grown <= base+1000 {
		t.Fatalf("payload growth not measured: base=%d grown=%d", base, grown)
	}
}
