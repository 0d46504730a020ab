package notify_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tradeagently/fund-engine/internal/notify"
)

func splitHostPort(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad listener address %q: %v", addr, err)
	}
	return host, port
}

func TestSend_StalledServerHonorsDeadline(t *testing.T) {
	// A server that accepts the connection and never speaks SMTP.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	host, port := splitHostPort(t, ln.Addr().String())
	n := notify.NewSMTPNotifier(host, port, "", "", "alerts@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.Send(ctx, "user@example.com", "subject", "body")
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error from a silent server")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send still blocked long after the context deadline")
	}
}

func TestSend_DeliversMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		var data strings.Builder
		write := func(line string) { conn.Write([]byte(line + "\r\n")) }

		write("220 test ESMTP")
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")

			if inData {
				if line == "." {
					inData = false
					write("250 ok")
					received <- data.String()
					continue
				}
				data.WriteString(line + "\n")
				continue
			}

			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				write("250 test")
			case strings.HasPrefix(line, "MAIL FROM"):
				write("250 ok")
			case strings.HasPrefix(line, "RCPT TO"):
				write("250 ok")
			case line == "DATA":
				write("354 go ahead")
				inData = true
			case line == "QUIT":
				write("221 bye")
				return
			default:
				write("250 ok")
			}
		}
	}()

	host, port := splitHostPort(t, ln.Addr().String())
	n := notify.NewSMTPNotifier(host, port, "", "", "alerts@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Send(ctx, "user@example.com", "Price Alert For AAPL", "triggered"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case msg := <-received:
		for _, want := range []string{
			"To: user@example.com",
			"From: alerts@example.com",
			"Subject: Price Alert For AAPL",
			"triggered",
		} {
			if !strings.Contains(msg, want) {
				t.Errorf("message missing %q:\n%s", want, msg)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message body")
	}
}
