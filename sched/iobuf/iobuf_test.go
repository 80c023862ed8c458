package iobuf

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedOutputReceiveAccumulates(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Pipe")
	defer w.Close()

	out, err := NewBufferedOutput(r)
	require.NoError(t, err, "NewBufferedOutput")
	defer out.Close()

	_, err = w.Write([]byte("hello "))
	require.NoError(t, err, "Write")
	waitReadable(t, out)

	_, err = w.Write([]byte("world"))
	require.NoError(t, err, "Write")
	waitReadable(t, out)

	assert.Equal(t, "hello world", string(out.Bytes()), "expected accumulated bytes")
}

func waitReadable(t *testing.T, out *BufferedOutput) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, err := out.Receive()
		require.NoError(t, err, "Receive")
		if len(out.Bytes()) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBufferedOutputReceiveWhenEmptyIsNotAnError(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Pipe")
	defer w.Close()

	out, err := NewBufferedOutput(r)
	require.NoError(t, err, "NewBufferedOutput")
	defer out.Close()

	_, err = out.Receive()
	assert.NoError(t, err, "expected no error on an empty non-blocking pipe")
}

func TestProgressiveOutputCoalescesOnClose(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Pipe")

	prog, err := NewProgressiveOutput(r, 10*time.Millisecond)
	require.NoError(t, err, "NewProgressiveOutput")

	payload := bytes.Repeat([]byte("x"), 256*1024)
	go func() {
		_, _ = w.Write(payload)
		_ = w.Close()
	}()

	time.Sleep(50 * time.Millisecond)
	got := prog.Close()

	require.Len(t, got, len(payload), "expected bytes coalesced")
	assert.True(t, bytes.Equal(got, payload), "expected coalesced bytes to match the written payload exactly")
}

func TestProgressiveOutputCloseIsIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Pipe")
	_ = w.Close()

	prog, err := NewProgressiveOutput(r, 5*time.Millisecond)
	require.NoError(t, err, "NewProgressiveOutput")

	first := prog.Close()
	second := prog.Close()
	assert.True(t, bytes.Equal(first, second), "expected a second Close to return the same snapshot")
}

func TestBufferedInputSendsAllDataThenCloses(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Pipe")

	data := bytes.Repeat([]byte("y"), 200*1024)
	in, err := NewBufferedInput(w, data)
	require.NoError(t, err, "NewBufferedInput")

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 0, len(data))
		chunk := make([]byte, 64*1024)
		for {
			n, err := r.Read(chunk)
			buf = append(buf, chunk[:n]...)
			if err != nil {
				break
			}
		}
		readDone <- buf
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, in.Send())
		if in.closed {
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.True(t, in.closed, "expected BufferedInput to close once all data is sent")

	got := <-readDone
	assert.True(t, bytes.Equal(got, data), "expected reader to observe exactly the written data")
}

func TestBufferedInputSendAfterCloseIsNoOp(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Pipe")
	defer r.Close()

	in, err := NewBufferedInput(w, nil)
	require.NoError(t, err, "NewBufferedInput")

	require.NoError(t, in.Send())
	assert.NoError(t, in.Send(), "second Send should be a no-op")
}

func TestOpenStatePipeRoundTrip(t *testing.T) {
	sp, err := OpenStatePipe()
	require.NoError(t, err, "OpenStatePipe")
	defer sp.ParentRead.Close()
	defer sp.ParentWrite.Close()

	go func() {
		_, _ = sp.ParentWrite.Write([]byte("prior-state"))
	}()

	buf := make([]byte, 64)
	n, err := sp.ChildRead.Read(buf)
	require.NoError(t, err, "ChildRead.Read")
	assert.Equal(t, "prior-state", string(buf[:n]))

	assert.NoError(t, sp.CloseChildEnds())
}
