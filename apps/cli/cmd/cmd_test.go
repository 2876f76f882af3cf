package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	registrar "github.com/turkkalori/fcm-registrar"
	"github.com/turkkalori/fcm-registrar/apps/cli/internal/config"
	"github.com/turkkalori/fcm-registrar/apps/cli/internal/pushcheck"
	"github.com/turkkalori/fcm-registrar/sqlstore"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// executeCLI resets the flag-bound globals, runs the root command with args
// and returns stdout and stderr.
func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	sessionDir, configPath, endpoint, verbose, useYAML = "", "", "", false, false

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func statusServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestSubmitThenStatus(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	server, calls := statusServer(t, http.StatusOK)
	dir := t.TempDir()
	token := strings.Repeat("t", 40)

	stdout, _, err := executeCLI(t, "submit", token, "--session-dir", dir, "--endpoint", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Registered:      yes")
	assert.Contains(t, stdout, "Attempts:        1")
	assert.Equal(t, int32(1), calls.Load())

	stdout, _, err = executeCLI(t, "status", "--session-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "State:           acknowledged")
	assert.Contains(t, stdout, "Endpoint:        (not configured)")

	stdout, _, err = executeCLI(t, "status", "--session-dir", dir, "--yaml")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, true, doc["registered"])
	assert.Equal(t, "file", doc["store"])
	record := doc["record"].(map[string]any)
	assert.Equal(t, token, record["token"])

	// Submitting the acknowledged token again does not reach the network.
	_, _, err = executeCLI(t, "submit", token, "--session-dir", dir, "--endpoint", server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmit_EndpointFromConfigFile(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	server, calls := statusServer(t, http.StatusOK)
	dir := t.TempDir()
	configFile := filepath.Join(t.TempDir(), "registrar.yaml")
	require.NoError(t, writeFile(configFile, "endpoint: "+server.URL+"\n"))

	stdout, _, err := executeCLI(t, "submit", "token-a", "--session-dir", dir, "--config", configFile, "--yaml")
	require.NoError(t, err)

	var ack registrar.Ack
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &ack))
	assert.Equal(t, "token-a", ack.Token)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmit_Rejected(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	server, calls := statusServer(t, http.StatusBadRequest)
	dir := t.TempDir()

	_, stderr, err := executeCLI(t, "submit", "token-a", "--session-dir", dir, "--endpoint", server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, registrar.ErrRejected)
	assert.Contains(t, stderr, "registration failed")
	assert.Equal(t, int32(1), calls.Load())

	stdout, _, err := executeCLI(t, "status", "--session-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "State:           rejected")
	assert.Contains(t, stdout, "Last error:")
}

func TestSubmit_MissingEndpoint(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	_, _, err := executeCLI(t, "submit", "token-a", "--session-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FCM_REGISTRAR_ENDPOINT")
}

func TestResume_NoRecord(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	server, calls := statusServer(t, http.StatusOK)

	_, stderr, err := executeCLI(t, "resume", "--session-dir", t.TempDir(), "--endpoint", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stderr, "No registration record to resume.")
	assert.Zero(t, calls.Load())
}

func TestResume_PendingRecord(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	server, calls := statusServer(t, http.StatusOK)
	dir := t.TempDir()
	require.NoError(t, registrar.NewFileStore(dir).Save(context.Background(), registrar.Record{
		Token:      "token-a",
		State:      registrar.StateSending,
		InstanceID: "instance-1",
		Attempts:   2,
		ObservedAt: time.Now(),
	}))

	stdout, _, err := executeCLI(t, "resume", "--session-dir", dir, "--endpoint", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Attempts:        3")
	assert.Contains(t, stdout, "Instance ID:     instance-1")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenStore_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults(dir)
	cfg.Store.Backend = config.StoreSQLite
	cfg.Store.SQLitePath = filepath.Join(dir, "nested", "registrar.db")

	store, closeStore, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	_, ok := store.(*sqlstore.Store)
	assert.True(t, ok, "expected *sqlstore.Store, got %T", store)
}

func TestOpenStore_File(t *testing.T) {
	sessionDir = t.TempDir()
	store, closeStore, err := openStore(context.Background(), config.Defaults(sessionDir))
	require.NoError(t, err)
	defer closeStore()

	fs, ok := store.(*registrar.FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(sessionDir, registrar.RecordFileName), fs.Path())
}

func TestOpenStore_RedisBadURL(t *testing.T) {
	cfg := config.Defaults(t.TempDir())
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.RedisURL = "not-a-url"

	_, _, err := openStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunListen_RegistersTokensAndPrintsMessages(t *testing.T) {
	server, calls := statusServer(t, http.StatusOK)
	sessionDir = t.TempDir()
	cfg := config.Defaults(sessionDir)
	cfg.Endpoint = server.URL

	input := strings.Join([]string{
		`{"newToken":"token-a"}`,
		`{"message":{"from":"sender-1","notification":{"body":"hi"},"data":{"k":"v"}}}`,
	}, "\n")

	var out bytes.Buffer
	err := runListen(context.Background(), cfg, listenOptions{in: strings.NewReader(input), out: &out, noResume: true})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "[registration] token-a... acknowledged after 1 attempt(s)")
	assert.Contains(t, out.String(), "[message] from sender-1: hi map[k:v]")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunListen_ResumesPendingRecord(t *testing.T) {
	server, calls := statusServer(t, http.StatusOK)
	sessionDir = t.TempDir()
	require.NoError(t, registrar.NewFileStore(sessionDir).Save(context.Background(), registrar.Record{
		Token:      "token-a",
		State:      registrar.StatePending,
		InstanceID: "instance-1",
		Attempts:   1,
		ObservedAt: time.Now(),
	}))
	cfg := config.Defaults(sessionDir)
	cfg.Endpoint = server.URL

	var out bytes.Buffer
	err := runListen(context.Background(), cfg, listenOptions{in: strings.NewReader(""), out: &out})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "acknowledged after 2 attempt(s)")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunListen_NoResume(t *testing.T) {
	server, calls := statusServer(t, http.StatusOK)
	sessionDir = t.TempDir()
	require.NoError(t, registrar.NewFileStore(sessionDir).Save(context.Background(), registrar.Record{
		Token: "token-a", State: registrar.StatePending, InstanceID: "instance-1",
	}))
	cfg := config.Defaults(sessionDir)
	cfg.Endpoint = server.URL

	var out bytes.Buffer
	require.NoError(t, runListen(context.Background(), cfg, listenOptions{in: strings.NewReader(""), out: &out, noResume: true}))
	assert.Empty(t, out.String())
	assert.Zero(t, calls.Load())
}

func TestServeMetrics_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = serveMetrics(ln.Addr().String(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics server")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, registrar.Result{Err: registrar.ErrInvalidToken}, false)
	assert.Contains(t, buf.String(), "[registration] failed: invalid token")

	buf.Reset()
	printResult(&buf, registrar.Result{Ack: registrar.Ack{Token: "token-a", Attempts: 2}}, true)
	var docs []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, true, docs[0]["registered"])
}

type fakePushSender struct {
	msg *messaging.Message
	err error
}

func (f *fakePushSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.msg = msg
	return "projects/demo/messages/42", f.err
}

func TestPushTest_UsesRecordedToken(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	dir := t.TempDir()
	require.NoError(t, registrar.NewFileStore(dir).Save(context.Background(), registrar.Record{
		Token: "token-a", State: registrar.StateAcknowledged, InstanceID: "instance-1",
	}))

	sender := &fakePushSender{}
	origFactory := newPushSender
	defer func() { newPushSender = origFactory }()
	newPushSender = func(context.Context, config.Config) (pushcheck.Sender, error) { return sender, nil }

	stdout, _, err := executeCLI(t, "push-test", "--session-dir", dir, "--body", "hello", "--data", "kind=test")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Test push sent: projects/demo/messages/42")
	require.NotNil(t, sender.msg)
	assert.Equal(t, "token-a", sender.msg.Token)
	assert.Equal(t, "hello", sender.msg.Notification.Body)
	assert.Equal(t, "test", sender.msg.Data["kind"])
}

func TestPushTest_NoRecord(t *testing.T) {
	t.Setenv("FCM_REGISTRAR_ENDPOINT", "")
	origFactory := newPushSender
	defer func() { newPushSender = origFactory }()
	newPushSender = func(context.Context, config.Config) (pushcheck.Sender, error) {
		return nil, errors.New("should not be called")
	}

	_, _, err := executeCLI(t, "push-test", "--session-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registration record")
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
