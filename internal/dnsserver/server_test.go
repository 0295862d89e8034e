package dnsserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"unicode/utf8"

	"vgpt/internal/middleware"

	"github.com/miekg/dns"
)

type stubTurns struct {
	reply string
	err   error
	got   []string
}

func (s *stubTurns) ProcessTurn(ctx context.Context, userText string) (string, error) {
	s.got = append(s.got, userText)
	return s.reply, s.err
}

type fakeWriter struct {
	dns.ResponseWriter
	msg *dns.Msg
}

func (w *fakeWriter) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: 5353}
}

func (w *fakeWriter) WriteMsg(m *dns.Msg) error {
	w.msg = m
	return nil
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	return m
}

func TestServeDNSAnswersTXT(t *testing.T) {
	turns := &stubTurns{reply: "I'm doing well, thanks!"}
	s := New(Config{Zone: "chat", Turns: turns})

	w := &fakeWriter{}
	s.ServeDNS(w, query("how-are-you.chat.", dns.TypeTXT))

	if w.msg == nil || len(w.msg.Answer) != 1 {
		t.Fatalf("expected one answer, got %+v", w.msg)
	}
	txt := w.msg.Answer[0].(*dns.TXT)
	if strings.Join(txt.Txt, "") != "I'm doing well, thanks!" {
		t.Fatalf("unexpected txt: %v", txt.Txt)
	}
	if len(turns.got) != 1 || turns.got[0] != "how are you" {
		t.Fatalf("unexpected prompt: %v", turns.got)
	}
}

func TestServeDNSIgnoresOtherTypes(t *testing.T) {
	turns := &stubTurns{reply: "x"}
	s := New(Config{Zone: "chat.", Turns: turns})

	w := &fakeWriter{}
	s.ServeDNS(w, query("hello.chat.", dns.TypeA))
	if len(w.msg.Answer) != 0 || len(turns.got) != 0 {
		t.Fatalf("A query must not trigger a turn")
	}
}

func TestServeDNSServerFailure(t *testing.T) {
	s := New(Config{Zone: "chat.", Turns: &stubTurns{err: errors.New("down")}})

	w := &fakeWriter{}
	s.ServeDNS(w, query("hello.chat.", dns.TypeTXT))
	if w.msg.Rcode != dns.RcodeServerFailure {
		t.Fatalf("expected SERVFAIL, got %d", w.msg.Rcode)
	}
}

func TestServeDNSRateLimited(t *testing.T) {
	turns := &stubTurns{reply: "x"}
	s := New(Config{Zone: "chat.", Turns: turns, Limiter: middleware.NewLimiter(1, 1)})

	s.ServeDNS(&fakeWriter{}, query("hello.chat.", dns.TypeTXT))
	w := &fakeWriter{}
	s.ServeDNS(w, query("hello.chat.", dns.TypeTXT))
	if w.msg.Rcode != dns.RcodeRefused {
		t.Fatalf("expected REFUSED, got %d", w.msg.Rcode)
	}
	if len(turns.got) != 1 {
		t.Fatalf("limited query must not reach the processor")
	}
}

func TestPromptFromName(t *testing.T) {
	s := New(Config{Zone: "chat.example.", Turns: &stubTurns{}})

	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"what-is-go.chat.example.", "what is go", true},
		{"Tell-Me.A-Joke.chat.example", "tell me a joke", true},
		{"chat.example.", "", false},
		{"hello.other.zone.", "", false},
	}
	for _, tc := range cases {
		got, ok := s.PromptFromName(tc.name)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got %q/%v, want %q/%v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSplitTXT(t *testing.T) {
	long := strings.Repeat("a", 600)
	parts := SplitTXT(long)
	if len(parts) != 3 || len(parts[0]) != 255 || len(parts[2]) != 90 {
		t.Fatalf("unexpected split: %d parts", len(parts))
	}
	if strings.Join(parts, "") != long {
		t.Fatalf("split lost data")
	}
	if got := truncate(long, maxReply); len(got) != maxReply || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncate length %d", len(got))
	}
}

func TestSplitTXTKeepsRunesWhole(t *testing.T) {
	accented := strings.Repeat("é", 300)
	parts := SplitTXT(accented)
	for i, part := range parts {
		if len(part) > 255 {
			t.Fatalf("part %d too long: %d", i, len(part))
		}
		if !utf8.ValidString(part) {
			t.Fatalf("part %d splits a rune", i)
		}
	}
	if strings.Join(parts, "") != accented {
		t.Fatalf("split lost data")
	}

	cut := truncate(accented, maxReply)
	if !utf8.ValidString(cut) || len(cut) > maxReply || !strings.HasSuffix(cut, "...") {
		t.Fatalf("truncate broke a rune or the limit: %d bytes", len(cut))
	}
}

func TestServeDNSMultibyteReply(t *testing.T) {
	s := New(Config{Zone: "chat.", Turns: &stubTurns{reply: strings.Repeat("é", 300)}})

	w := &fakeWriter{}
	s.ServeDNS(w, query("bonjour.chat.", dns.TypeTXT))
	txt := w.msg.Answer[0].(*dns.TXT)
	for _, part := range txt.Txt {
		if !utf8.ValidString(part) {
			t.Fatalf("answer contains a broken rune: %q", part)
		}
	}
}
