package testutil

import (
	"errors"
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

const natsStartTimeout = 8 * time.Second

// FreePort asks the kernel for an unused loopback TCP port.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// StartLocalNATSServer runs nats-server with JetStream in a temp dir.
// Params: test handle; the test is skipped when nats-server is not installed.
// Returns: client URL and idempotent stop callback (also run on cleanup).
func StartLocalNATSServer(tb testing.TB) (string, func()) {
	tb.Helper()

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}
	url := "nats://127.0.0.1:" + strconv.Itoa(port)

	cmd := exec.Command("nats-server", "-js", "-a", "127.0.0.1", "-p", strconv.Itoa(port), "-sd", tb.TempDir())
	if err := cmd.Start(); err != nil {
		tb.Skipf("nats-server not available: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			<-exited
		}
	}
	tb.Cleanup(stop)

	WaitForNATSReady(tb, url, natsStartTimeout)
	return url, stop
}

// WaitForNATSReady polls url until a client connection succeeds.
func WaitForNATSReady(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for {
		nc, err := nats.Connect(url)
		if err == nil {
			nc.Close()
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("nats at %s not ready after %s: %v", url, timeout, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// EnsureBucket creates a single-revision KV bucket the way a deployment
// provisions the durable client state ahead of time.
func EnsureBucket(tb testing.TB, url, bucket string) {
	tb.Helper()
	withJetStream(tb, url, func(js nats.JetStreamContext) {
		if _, err := js.KeyValue(bucket); err == nil {
			return
		} else if !errors.Is(err, nats.ErrBucketNotFound) {
			tb.Fatalf("lookup bucket %s: %v", bucket, err)
		}
		if _, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, History: 1}); err != nil {
			tb.Fatalf("create bucket %s: %v", bucket, err)
		}
	})
}

// BucketValue reads key straight from bucket, bypassing the client store.
// Returns: value and whether the key currently exists.
func BucketValue(tb testing.TB, url, bucket, key string) ([]byte, bool) {
	tb.Helper()
	var (
		value []byte
		found bool
	)
	withJetStream(tb, url, func(js nats.JetStreamContext) {
		kv, err := js.KeyValue(bucket)
		if err != nil {
			tb.Fatalf("open bucket %s: %v", bucket, err)
		}
		entry, err := kv.Get(key)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
		case err != nil:
			tb.Fatalf("get %s/%s: %v", bucket, key, err)
		default:
			value, found = entry.Value(), true
		}
	})
	return value, found
}

func withJetStream(tb testing.TB, url string, fn func(js nats.JetStreamContext)) {
	tb.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream init: %v", err)
	}
	fn(js)
}
