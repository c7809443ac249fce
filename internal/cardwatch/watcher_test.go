package cardwatch

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/reader/pn532"
)

type readResult struct {
	uid []byte
	err error
}

// fakeReader replays scripted detection results, then reports no target.
type fakeReader struct {
	mu         sync.Mutex
	reads      []readResult
	token      []byte
	tokenErr   error
	polls      int
	powerDowns int
	selected   [][]byte
}

func (f *fakeReader) ReadPassiveTarget() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.reads) == 0 {
		return nil, nil
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	return r.uid, r.err
}

func (f *fakeReader) SelectApplication(aid []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, aid)
	return f.token, f.tokenErr
}

func (f *fakeReader) PowerDown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powerDowns++
	return nil
}

func (f *fakeReader) counts() (polls, powerDowns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls, f.powerDowns
}

func TestWatcher_PublishesPhysical(t *testing.T) {
	reader := &fakeReader{reads: []readResult{{uid: []byte{1, 2, 3, 4}}}}
	mb := NewMailbox[access.Credential]()
	w := NewWatcher(reader, mb, Config{})

	if !w.poll() {
		t.Fatal("poll() = false, want credential published")
	}

	cred, err := mb.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	phys, ok := cred.(access.Physical)
	if !ok {
		t.Fatalf("credential type = %T, want access.Physical", cred)
	}
	if !bytes.Equal(phys.UID, []byte{1, 2, 3, 4}) {
		t.Errorf("UID = % x, want 01 02 03 04", phys.UID)
	}
	if len(reader.selected) != 1 || !bytes.Equal(reader.selected[0], AndroidAID) {
		t.Errorf("SelectApplication aid = % x, want Android AID", reader.selected)
	}
}

func TestWatcher_PublishesAppToken(t *testing.T) {
	reader := &fakeReader{
		reads: []readResult{{uid: []byte{8, 1, 2, 3}}},
		token: []byte("cafe0001"),
	}
	mb := NewMailbox[access.Credential]()
	w := NewWatcher(reader, mb, Config{})

	w.poll()

	cred, _ := mb.Wait(context.Background())
	tok, ok := cred.(access.AppToken)
	if !ok {
		t.Fatalf("credential type = %T, want access.AppToken", cred)
	}
	if tok.Text() != "cafe0001" {
		t.Errorf("Text() = %q, want %q", tok.Text(), "cafe0001")
	}
}

func TestWatcher_NoTarget(t *testing.T) {
	reader := &fakeReader{}
	w := NewWatcher(reader, NewMailbox[access.Credential](), Config{})

	if w.poll() {
		t.Error("poll() = true with no target")
	}
	if len(reader.selected) != 0 {
		t.Error("SelectApplication called with no target present")
	}
}

func TestWatcher_AbsorbsMultipleTargets(t *testing.T) {
	multiple := &pn532.ProtocolError{
		Op:  "InListPassiveTarget",
		Err: fmt.Errorf("%w: 2", pn532.ErrMultipleTargets),
	}
	reader := &fakeReader{reads: []readResult{
		{err: multiple},
		{uid: []byte{9, 9, 9, 9}},
	}}
	mb := NewMailbox[access.Credential]()
	w := NewWatcher(reader, mb, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	cred, err := mb.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait() error = %v; loop did not survive the protocol error", err)
	}
	if phys, ok := cred.(access.Physical); !ok || !bytes.Equal(phys.UID, []byte{9, 9, 9, 9}) {
		t.Errorf("credential = %v, want Physical 09090909", cred)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	polls, powerDowns := reader.counts()
	if polls < 2 {
		t.Errorf("polls = %d, want at least 2", polls)
	}
	if powerDowns != polls {
		t.Errorf("PowerDown calls = %d, want one per poll (%d)", powerDowns, polls)
	}
}
