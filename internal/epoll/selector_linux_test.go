//go:build linux

package epoll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestSelectorReadReadiness(t *testing.T) {
	s, err := NewSelector(16)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer s.Close()

	a, b := socketpair(t)
	if err := s.Add(a, true, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	out, err := s.Wait(nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no events on idle socket, got %d", len(out))
	}

	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err = s.Wait(nil, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(out) != 1 || out[0].Fd != a || !out[0].Readable {
		t.Fatalf("expected read readiness on fd %d, got %+v", a, out)
	}
}

func TestSelectorInterestMask(t *testing.T) {
	s, err := NewSelector(16)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer s.Close()

	a, b := socketpair(t)
	if err := s.Add(a, true, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// mask read interest: pending data must not be reported
	if err := s.Mod(a, false, false); err != nil {
		t.Fatalf("Mod: %v", err)
	}
	out, err := s.Wait(nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("masked fd still reported: %+v", out)
	}
	// restore interest: data is reported again (level-triggered)
	if err := s.Mod(a, true, false); err != nil {
		t.Fatalf("Mod: %v", err)
	}
	out, err = s.Wait(nil, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(out) != 1 || !out[0].Readable {
		t.Fatalf("expected read readiness after unmask, got %+v", out)
	}
}

func TestSelectorWakeup(t *testing.T) {
	s, err := NewSelector(16)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err := s.Wait(nil, 5*time.Second)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		// wakeup is internal, no events surface
		if len(out) != 0 {
			t.Errorf("wakeup leaked as event: %+v", out)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	if err := s.Wakeup(); err != nil {
		t.Fatalf("Wakeup: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait not interrupted by Wakeup")
	}
}

func TestSelectorDel(t *testing.T) {
	s, err := NewSelector(16)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	defer s.Close()

	a, b := socketpair(t)
	if err := s.Add(a, true, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Del(a); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := s.Wait(nil, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("deleted fd still reported: %+v", out)
	}
}
