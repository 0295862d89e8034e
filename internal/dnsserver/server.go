// Package dnsserver отвечает на TXT-запросы вида <words-joined-by-dashes>.<zone>
// одним ходом диалога.
package dnsserver

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"vgpt/internal/middleware"

	"github.com/miekg/dns"
)

const (
	txtChunk       = 255
	maxReply       = 500
	answerTTL      = 60
	defaultTimeout = 4 * time.Second
)

// TurnProcessor обрабатывает один ход без сессии.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, userText string) (string, error)
}

type Config struct {
	Addr    string
	Zone    string
	Timeout time.Duration
	Turns   TurnProcessor
	Limiter *middleware.Limiter
	Logger  *slog.Logger
}

type Server struct {
	zone    string
	timeout time.Duration
	turns   TurnProcessor
	limiter *middleware.Limiter
	logger  *slog.Logger
	server  *dns.Server
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Server{
		zone:    dns.Fqdn(strings.ToLower(cfg.Zone)),
		timeout: timeout,
		turns:   cfg.Turns,
		limiter: cfg.Limiter,
		logger:  logger,
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(s.zone, s.ServeDNS)
	s.server = &dns.Server{Addr: cfg.Addr, Net: "udp", Handler: mux}
	return s
}

// ListenAndServe блокируется до Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("dns server starting", slog.String("addr", s.server.Addr), slog.String("zone", s.zone))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.ShutdownContext(ctx)
}

func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		return
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if !s.limiter.Allow(middleware.ClientIP(w.RemoteAddr().String())) {
		m.Rcode = dns.RcodeRefused
		w.WriteMsg(m)
		return
	}

	for _, q := range r.Question {
		if q.Qtype != dns.TypeTXT {
			continue
		}
		prompt, ok := s.PromptFromName(q.Name)
		if !ok {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		reply, err := s.turns.ProcessTurn(ctx, prompt)
		cancel()
		if err != nil {
			s.logger.Error("dns turn failed", slog.String("error", err.Error()), slog.String("name", q.Name))
			m.Rcode = dns.RcodeServerFailure
			continue
		}

		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    answerTTL,
			},
			Txt: SplitTXT(truncate(reply, maxReply)),
		})
	}

	w.WriteMsg(m)
}

// PromptFromName "how-are-you.chat." -> "how are you".
func (s *Server) PromptFromName(name string) (string, bool) {
	name = dns.Fqdn(strings.ToLower(name))
	suffix := "." + s.zone
	if s.zone == "." {
		suffix = "."
	}
	if !strings.HasSuffix(name, suffix) || name == suffix {
		return "", false
	}
	label := strings.TrimSuffix(name, suffix)
	prompt := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(label, ".", " "), "-", " "))
	return prompt, prompt != ""
}

// SplitTXT режет ответ на строки не длиннее 255 байт, предела одной TXT-строки,
// не разрывая UTF-8 символы.
func SplitTXT(text string) []string {
	if text == "" {
		return []string{""}
	}
	out := make([]string, 0, len(text)/txtChunk+1)
	for len(text) > 0 {
		end := runeBoundary(text, txtChunk)
		out = append(out, text[:end])
		text = text[end:]
	}
	return out
}

// truncate ограничивает ответ limit байтами вместе с многоточием.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:runeBoundary(text, limit-3)] + "..."
}

// runeBoundary наибольшая граница символа не дальше n байт.
func runeBoundary(text string, n int) int {
	if n >= len(text) {
		return len(text)
	}
	end := n
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == 0 {
		return n
	}
	return end
}
