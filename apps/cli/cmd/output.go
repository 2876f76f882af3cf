package cmd

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	registrar "github.com/turkkalori/fcm-registrar"
)

// yamlOut prints data as a YAML document to w.
func yamlOut(w io.Writer, data any) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}

func printAck(w io.Writer, ack registrar.Ack, asYAML bool) {
	if asYAML {
		yamlOut(w, ack)
		return
	}
	fmt.Fprintf(w, "Registered:      yes\n")
	fmt.Fprintf(w, "Token:           %s...\n", registrar.TokenPrefix(ack.Token))
	fmt.Fprintf(w, "Instance ID:     %s\n", ack.InstanceID)
	fmt.Fprintf(w, "Attempts:        %d\n", ack.Attempts)
	if !ack.AcknowledgedAt.IsZero() {
		fmt.Fprintf(w, "Acknowledged:    %s\n", formatTime(ack.AcknowledgedAt))
	}
}

// recordView is the printable form of a record.
func recordView(rec registrar.Record) map[string]any {
	view := map[string]any{
		"token":       rec.Token,
		"state":       string(rec.State),
		"instance_id": rec.InstanceID,
		"attempts":    rec.Attempts,
		"observed_at": rec.ObservedAt.UTC().Format(time.RFC3339),
		"resumable":   rec.Resumable(),
	}
	if rec.LastSentAt != nil {
		view["last_sent_at"] = rec.LastSentAt.UTC().Format(time.RFC3339)
	}
	if rec.AcknowledgedAt != nil {
		view["acknowledged_at"] = rec.AcknowledgedAt.UTC().Format(time.RFC3339)
	}
	if rec.LastError != "" {
		view["last_error"] = rec.LastError
	}
	return view
}

func printRecord(w io.Writer, rec registrar.Record) {
	fmt.Fprintf(w, "Token:           %s...\n", registrar.TokenPrefix(rec.Token))
	fmt.Fprintf(w, "State:           %s\n", rec.State)
	fmt.Fprintf(w, "Instance ID:     %s\n", rec.InstanceID)
	fmt.Fprintf(w, "Attempts:        %d\n", rec.Attempts)
	fmt.Fprintf(w, "Observed:        %s\n", formatTime(rec.ObservedAt))
	if rec.LastSentAt != nil {
		fmt.Fprintf(w, "Last sent:       %s\n", formatTime(*rec.LastSentAt))
	}
	if rec.AcknowledgedAt != nil {
		fmt.Fprintf(w, "Acknowledged:    %s\n", formatTime(*rec.AcknowledgedAt))
	}
	if rec.LastError != "" {
		fmt.Fprintf(w, "Last error:      %s\n", rec.LastError)
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
