package mail

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatSummary_Sections(t *testing.T) {
	raw := `## Overall Mood
Low but hopeful.

## Sleep
No information provided.

**Appetite**
Eating less than usual.

Main Stressors: exams and deadlines

## Protective Factors / Supports
Close friend, weekly runs.

## Risk Level
Low`

	got := FormatSummary(raw, "low")

	for _, want := range []string{
		"## 🌿 Session Summary",
		"### 😊 Overall Mood\nLow but hopeful.",
		"### 🍽️ Appetite\nEating less than usual.",
		"### ⚠️ Main Stressors\nexams and deadlines",
		"### 🛡️ Supports\nClose friend, weekly runs.",
		"Risk level: **Low**",
		"#### Quick next steps",
		"- Reach out to someone you trust if you need",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Sleep") {
		t.Errorf("empty Sleep section should be dropped:\n%s", got)
	}
}

func TestFormatSummary_Fallback(t *testing.T) {
	got := FormatSummary("You seemed tired.\n\n\n\nTalk again soon.", "MEDIUM")
	want := "## Session Summary\n\nYou seemed tired.\n\nTalk again soon.\n\n---\nRisk: **Medium**"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
	if FormatSummary("   ", "low") != "" {
		t.Fatal("blank summary should format to empty")
	}
}

func TestFormatSummary_Concurrent(t *testing.T) {
	want := FormatSummary("You seemed tired.", "medium")
	if !strings.Contains(want, "Risk: **Medium**") {
		t.Fatalf("unexpected summary %q", want)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var bad []string
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if got := FormatSummary("You seemed tired.", "medium"); got != want {
					mu.Lock()
					bad = append(bad, got)
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, got := range bad {
		t.Errorf("corrupted summary %q", got)
	}
}

func TestMatchHeading(t *testing.T) {
	tests := []struct {
		line     string
		name     string
		rest     string
		expected bool
	}{
		{"## Sleep", "Sleep", "", true},
		{"**Sleep**", "Sleep", "", true},
		{"**Sleep:** restless", "Sleep", "restless", true},
		{"1. Overall Mood: calm", "Overall Mood", "calm", true},
		{"Sleep was poor", "", "", false},
		{"Sleeping badly", "", "", false},
	}
	for _, tt := range tests {
		name, rest, ok := matchHeading(tt.line)
		if ok != tt.expected || name != tt.name || rest != tt.rest {
			t.Errorf("matchHeading(%q) = %q, %q, %v", tt.line, name, rest, ok)
		}
	}
}

func TestSummarySubject(t *testing.T) {
	if got := SummarySubject("abc"); got != "MindCare AI Session Summary (abc)" {
		t.Fatalf("got %q", got)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost"}, nil)
	err := m.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

// fakeSMTP is a minimal SMTP server that accepts one message.
type fakeSMTP struct {
	ln       net.Listener
	mu       sync.Mutex
	from     string
	rcpt     string
	data     string
	authSeen bool
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeSMTP{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)
	write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	write("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "EHLO"):
			write("250-fake")
			write("250 AUTH PLAIN")
		case strings.HasPrefix(upper, "AUTH"):
			f.mu.Lock()
			f.authSeen = true
			f.mu.Unlock()
			write("235 ok")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			f.mu.Lock()
			f.from = cmd[len("MAIL FROM:"):]
			f.mu.Unlock()
			write("250 ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			f.mu.Lock()
			f.rcpt = cmd[len("RCPT TO:"):]
			f.mu.Unlock()
			write("250 ok")
		case upper == "DATA":
			write("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			write("250 queued")
		case upper == "QUIT":
			write("221 bye")
			return
		default:
			write("250 ok")
		}
	}
}

func TestSend_DeliversMultipart(t *testing.T) {
	srv := startFakeSMTP(t)
	m := NewSMTPMailer(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Username: "bot",
		Password: "secret",
		From:     "care@example.com",
	}, nil)

	err := m.Send(context.Background(), Message{
		To:      "user@example.com",
		Subject: SummarySubject("s-1"),
		Body:    "Overall Mood\ncalm <3",
	})
	if err != nil {
		t.Fatal(err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !srv.authSeen {
		t.Error("expected AUTH to be used")
	}
	if !strings.Contains(srv.from, "care@example.com") || !strings.Contains(srv.rcpt, "user@example.com") {
		t.Errorf("unexpected envelope from=%q rcpt=%q", srv.from, srv.rcpt)
	}
	for _, want := range []string{
		"Subject: MindCare AI Session Summary (s-1)",
		"multipart/alternative",
		"text/plain; charset=utf-8",
		"text/html; charset=utf-8",
		"Dear <strong>User</strong>",
		"calm &lt;3",
	} {
		if !strings.Contains(srv.data, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSend_RequireTLS(t *testing.T) {
	srv := startFakeSMTP(t)
	m := NewSMTPMailer(SMTPConfig{
		Host: "127.0.0.1", Port: srv.port(), Username: "u", Password: "p",
		From: "care@example.com", RequireTLS: true,
	}, nil)
	err := m.Send(context.Background(), Message{To: "user@example.com", Subject: "x", Body: "y"})
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("expected STARTTLS error, got %v", err)
	}
}
