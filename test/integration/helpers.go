package integration

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"FlightSurety/client"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running oracled process.
type Node struct {
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	dataDir  string             // dataDir is the node's data directory
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel kills the process
	done     chan error         // done receives the result of Wait
}

// Client returns an API client for the node.
func (n *Node) Client() *client.Client { return client.NewClient(n.httpAddr) }

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// LogContains checks if the node's logs contain a substring.
func (n *Node) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Interrupt sends SIGINT and returns the process exit code.
func (n *Node) Interrupt(t *testing.T) int {
	t.Helper()

	if err := n.cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("signal node: %v", err)
	}

	return n.wait(t, 10*time.Second)
}

// wait returns the exit code once the process ends.
func (n *Node) wait(t *testing.T, timeout time.Duration) int {
	t.Helper()

	select {
	case <-n.done:
		return n.cmd.ProcessState.ExitCode()
	case <-time.After(timeout):
		n.cancel()
		t.Fatalf("node did not exit within %s\nSTDOUT:\n%s\nSTDERR:\n%s", timeout, n.Logs(), n.stderr.String())
		return -1
	}
}

// Stop kills the process.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

// startNode starts an oracled process with the given data directory and extra flags.
func startNode(t *testing.T, binary, dataDir string, extra ...string) *Node {
	t.Helper()

	node := &Node{
		httpAddr: freeAddr(t),
		dataDir:  dataDir,
		stdout:   &safeBuffer{},
		stderr:   &safeBuffer{},
		done:     make(chan error, 1),
	}

	args := append([]string{
		"--data", node.dataDir,
		"--http", node.httpAddr,
		"--seed", "7",
		"--snapshot-interval", "1h",
	}, extra...)

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel

	node.cmd = exec.CommandContext(ctx, binary, args...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	go func() { node.done <- node.cmd.Wait() }()

	t.Cleanup(node.Stop)

	return node
}

// waitReady polls /health until the node answers.
func waitReady(t *testing.T, n *Node) {
	t.Helper()

	c := n.Client()
	deadline := time.Now().Add(15 * time.Second)

	for time.Now().Before(deadline) {
		if c.Health() == nil {
			return
		}

		select {
		case <-n.done:
			t.Fatalf("node exited during startup\nSTDOUT:\n%s\nSTDERR:\n%s", n.Logs(), n.stderr.String())
		case <-time.After(100 * time.Millisecond):
		}
	}

	t.Fatalf("node not ready\nSTDOUT:\n%s", n.Logs())
}

// freeAddr reserves a loopback port.
func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer l.Close()

	return l.Addr().String()
}

// buildBinary compiles the node binary.
func buildBinary(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tmpFile, err := os.CreateTemp("", "oracled_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/oracled")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}

// mustf fails the test on error.
func mustf(t *testing.T, err error, format string, args ...any) {
	t.Helper()

	if err != nil {
		t.Fatalf("%s: %v", fmt.Sprintf(format, args...), err)
	}
}
