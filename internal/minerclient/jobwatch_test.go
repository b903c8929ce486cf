package minerclient

import (
	"testing"
	"time"
)

func TestJobWatchGetBeforeSet(t *testing.T) {
	w := newJobWatch()
	if _, ok := w.Get(); ok {
		t.Errorf("expected no job before the first Set")
	}
}

func TestJobWatchSetWakesWaiters(t *testing.T) {
	w := newJobWatch()
	ch := w.Chan()

	done := make(chan Job, 1)
	go func() {
		<-ch
		j, _ := w.Get()
		done <- j
	}()

	w.Set(Job{JobID: "job-1"})

	select {
	case j := <-done:
		if j.JobID != "job-1" {
			t.Errorf("expected job-1, got %+v", j)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestJobWatchChanIsFreshAfterEachSet(t *testing.T) {
	w := newJobWatch()
	w.Set(Job{JobID: "job-1"})
	first := w.Chan()
	w.Set(Job{JobID: "job-2"})

	select {
	case <-first:
	default:
		t.Fatal("channel from before the second Set should already be closed")
	}

	select {
	case <-w.Chan():
		t.Fatal("new channel should not be closed yet")
	default:
	}
}
