package commsutil

import (
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client")
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestConnect_EmbeddedServer(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   14242,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", connectTestPrefix)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := Connect(ns.ClientURL(), "coordinator-test")
	if err != nil {
		t.Fatalf("%s - Connect failed: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	if !nc.IsConnected() {
		t.Errorf("%s - expected connected state", connectTestPrefix)
	}
	if got := nc.Opts.Name; got != "coordinator-test" {
		t.Errorf("%s - connection name = %q, want coordinator-test", connectTestPrefix, got)
	}
}
