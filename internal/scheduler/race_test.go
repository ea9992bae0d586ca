package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
)

// Exercises Record on a live accumulator while the scheduler swaps and
// exports. Run with -race.
func TestRace_RecordDuringExport(t *testing.T) {
	acc := accumulator.New(1024)
	ship := newRecordingShipper()
	s := New(testConfig(2*time.Millisecond), acc, ship)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				acc.Record(cpuSample("main.work", 1))
			}
		}()
	}

	s.Start()
	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
	if ship.count() == 0 {
		t.Error("no uploads completed under concurrent recording")
	}
}

func TestRace_StateReadsDuringCycles(t *testing.T) {
	src := &windowSource{samples: []accumulator.Sample{cpuSample("main.work", 1)}}
	s := New(testConfig(2*time.Millisecond), src, newRecordingShipper())

	s.Start()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = s.State()
		}
	}()
	<-done
	s.Stop()
}
