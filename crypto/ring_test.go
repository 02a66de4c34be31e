package crypto

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSealOpen(t *testing.T) {
	ring := NewRing(NewEngine(testKey(t)))

	box, err := ring.Seal([]byte("ring traffic"))
	require.NoError(t, err)

	plaintext, err := ring.Open(box)
	require.NoError(t, err)
	assert.Equal(t, []byte("ring traffic"), plaintext)
}

func TestRingRotateKeepsOldKeyWithinGrace(t *testing.T) {
	oldKey := testKey(t)
	ring := NewRing(NewEngine(oldKey))

	// Box sealed under the old key, still in flight when the rotation lands.
	inFlight, err := ring.Seal([]byte("sealed before rotate"))
	require.NoError(t, err)

	next := testKey(t)
	ring.Rotate(next, time.Minute)

	plaintext, err := ring.Open(inFlight)
	require.NoError(t, err, "old-key box must open inside the grace window")
	assert.Equal(t, []byte("sealed before rotate"), plaintext)

	// New seals use the new key and open first try.
	fresh, err := ring.Seal([]byte("sealed after rotate"))
	require.NoError(t, err)
	plaintext, err = ring.Open(fresh)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed after rotate"), plaintext)

	// A verbatim new-key box also opens under a standalone engine on next,
	// proving the rotation actually switched the sealing key.
	standalone := NewEngine(next)
	plaintext, err = standalone.Decrypt(fresh)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed after rotate"), plaintext)
}

func TestRingGraceWindowExpires(t *testing.T) {
	ring := NewRing(NewEngine(testKey(t)))

	inFlight, err := ring.Seal([]byte("stale"))
	require.NoError(t, err)

	ring.Rotate(testKey(t), 40*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	_, err = ring.Open(inFlight)
	assert.ErrorIs(t, err, ErrAuthFailed, "old-key box must not open after the grace window")
}

func TestRingRotateZeroGraceDiscardsImmediately(t *testing.T) {
	ring := NewRing(NewEngine(testKey(t)))

	inFlight, err := ring.Seal([]byte("doomed"))
	require.NoError(t, err)

	ring.Rotate(testKey(t), 0)

	_, err = ring.Open(inFlight)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestRingSecondRotateWipesPrevious(t *testing.T) {
	ring := NewRing(NewEngine(testKey(t)))

	first, err := ring.Seal([]byte("epoch zero"))
	require.NoError(t, err)

	ring.Rotate(testKey(t), time.Minute)
	ring.Rotate(testKey(t), time.Minute)

	// Two rotations later the first key is gone even though both grace
	// windows are still open.
	_, err = ring.Open(first)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestRingConcurrentUseDuringRotate(t *testing.T) {
	ring := NewRing(NewEngine(testKey(t)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				box, err := ring.Seal([]byte("concurrent"))
				if err != nil {
					errs <- err
					return
				}
				if _, err := ring.Open(box); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	// One rotation with a generous grace window: every box sealed under the
	// outgoing key stays openable while the workers run.
	time.Sleep(10 * time.Millisecond)
	ring.Rotate(testKey(t), time.Minute)
	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent seal/open error: %v", err)
	}
}
