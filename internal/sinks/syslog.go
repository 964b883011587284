package sinks

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

const syslogDialTimeout = 10 * time.Second

// sendSyslog writes RFC 5424 messages over TCP, TLS, or UDP. One connection
// carries the whole batch: TCP/TLS lines are newline-framed, UDP sends one
// datagram per line.
func (f *Forwarder) sendSyslog(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	facility := configInt(sink.Config, "facility", 1)
	addr := net.JoinHostPort(sink.URL, strconv.Itoa(portOr(sink, 514)))

	protocol := configString(sink.Config, "protocol", "tcp")
	udp := protocol == "udp"

	conn, err := f.dialSyslog(ctx, sink, addr, udp)
	if err != nil {
		return fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	defer conn.Close()

	for _, rec := range records {
		priority := facility*8 + syslogSeverity(rec.Stream)
		app := rec.ContainerName
		if app == "" {
			app = "infra-mapper"
		}
		hostname := rec.Hostname
		if hostname == "" {
			hostname = "-"
		}

		line := fmt.Sprintf("<%d>1 %s %s %s - - - %s",
			priority, rec.Timestamp.UTC().Format(time.RFC3339), hostname, app, rec.Message)
		if !udp {
			line += "\n"
		}
		if _, err := conn.Write([]byte(line)); err != nil {
			return fmt.Errorf("write syslog message: %w", err)
		}
	}
	return nil
}

func (f *Forwarder) dialSyslog(ctx context.Context, sink *store.LogSink, addr string, udp bool) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: syslogDialTimeout}
	if udp {
		return dialer.DialContext(ctx, "udp", addr)
	}
	if sink.TLSEnabled {
		td := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{InsecureSkipVerify: !sink.TLSVerify},
		}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}
