package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	registrar "github.com/turkkalori/fcm-registrar"
	"github.com/turkkalori/fcm-registrar/apps/cli/internal/config"
	"github.com/turkkalori/fcm-registrar/fcm"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Read push events from stdin and register refreshed tokens",
	Long: `Read JSON push events from stdin, one per line:

  {"newToken": "..."}
  {"message": {"from": "...", "notification": {"body": "..."}, "data": {...}}}

New tokens are registered in the background; a newer token supersedes one
still retrying. A pending registration from an earlier run is resumed on
start unless --no-resume is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noResume, _ := cmd.Flags().GetBool("no-resume")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}

		fmt.Fprintln(cmd.ErrOrStderr(), "Listening for push events on stdin (JSON lines). Press Ctrl+C to stop.")
		err = runListen(ctx, cfg, listenOptions{
			in:       cmd.InOrStdin(),
			out:      cmd.OutOrStdout(),
			noResume: noResume,
			asYAML:   useYAML,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	listenCmd.Flags().Bool("no-resume", false, "Do not resume a pending registration on start")
	listenCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	rootCmd.AddCommand(listenCmd)
}

type listenOptions struct {
	in       io.Reader
	out      io.Writer
	noResume bool
	asYAML   bool
}

func runListen(ctx context.Context, cfg config.Config, opts listenOptions) error {
	var regOpts []registrar.Option
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		regOpts = append(regOpts, registrar.WithMetrics(registrar.NewMetrics(promReg)))

		stopMetrics, err := serveMetrics(cfg.MetricsAddr, promReg)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	reg, cleanup, err := setupRegistrar(ctx, cfg, regOpts...)
	if err != nil {
		return err
	}
	defer cleanup()
	// Interrupt ends in-flight submissions; their records stay pending.
	stopClose := context.AfterFunc(ctx, func() { reg.Close() })
	defer stopClose()

	var outMu sync.Mutex
	report := func(res registrar.Result) {
		outMu.Lock()
		defer outMu.Unlock()
		printResult(opts.out, res, opts.asYAML)
	}

	svc := fcm.NewService(reg, fcm.WithLogger(slog.Default()))
	svc.OnRegistered(report)
	svc.OnMessage(func(msg fcm.RemoteMessage) {
		outMu.Lock()
		defer outMu.Unlock()
		printMessage(opts.out, msg, opts.asYAML)
	})

	var resumeWG sync.WaitGroup
	defer resumeWG.Wait()
	if rec, ok := reg.Record(); ok && rec.Resumable() && !opts.noResume {
		slog.Info("Resuming pending registration", "token_prefix", registrar.TokenPrefix(rec.Token), "attempts", rec.Attempts)
		results := reg.ResumeAsync()
		resumeWG.Add(1)
		go func() {
			defer resumeWG.Done()
			report(<-results)
		}()
	}

	return svc.Serve(ctx, opts.in)
}

func printResult(w io.Writer, res registrar.Result, asYAML bool) {
	if asYAML {
		doc := map[string]any{"registered": res.Err == nil}
		if res.Err != nil {
			doc["error"] = res.Err.Error()
		} else {
			doc["ack"] = res.Ack
		}
		yamlOut(w, []any{doc})
		return
	}
	if res.Err != nil {
		fmt.Fprintf(w, "[registration] failed: %v\n", res.Err)
		return
	}
	fmt.Fprintf(w, "[registration] %s... acknowledged after %d attempt(s)\n",
		registrar.TokenPrefix(res.Ack.Token), res.Ack.Attempts)
}

func printMessage(w io.Writer, msg fcm.RemoteMessage, asYAML bool) {
	if asYAML {
		yamlOut(w, []any{msg})
		return
	}
	line := fmt.Sprintf("[message] from %s", msg.From)
	if msg.Notification != nil && msg.Notification.Body != "" {
		line += ": " + msg.Notification.Body
	}
	if len(msg.Data) > 0 {
		line += fmt.Sprintf(" %v", msg.Data)
	}
	fmt.Fprintln(w, line)
}

// serveMetrics exposes reg on addr/metrics. The returned func stops the server.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	// Surface bind errors before registrations start.
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("metrics server on %s: %w", addr, err)
	case <-time.After(100 * time.Millisecond):
	}
	slog.Info("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
