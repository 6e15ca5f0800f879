//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/framefox/foxconnect/internal/platform/config"
	pfirestore "github.com/framefox/foxconnect/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// newEmulatorProvider binds a provider to FIRESTORE_EMULATOR_HOST when set, and otherwise to an
// emulator container started for the test. Each test gets its own project so data never leaks.
func newEmulatorProvider(t *testing.T, projectPrefix string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		host = startEmulatorContainer(t)
	}

	project := fmt.Sprintf("%s-%d", projectPrefix, time.Now().UnixNano())
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	for {
		err := provider.Ping(ctx)
		if err == nil {
			return provider
		}
		select {
		case <-ctx.Done():
			t.Fatalf("firestore emulator at %s not ready: %v", host, err)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// startEmulatorContainer runs the emulator image on a free local port and returns its address.
func startEmulatorContainer(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("FIRESTORE_EMULATOR_HOST not set and docker not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon unavailable: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	_, port, _ := net.SplitHostPort(addr)

	out, err := exec.Command("docker", "run", "-d", "--rm", "-p", port+":8080", emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet").CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v: %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})
	return addr
}
