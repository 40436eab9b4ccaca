package mailer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"mime"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/taskflow/mailcenter/internal/config"
)

var smtpVarPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// SMTPSender submits messages directly to a configured smarthost. Unlike
// the HTTP provider, interpolation happens here before submission;
// unresolved placeholders are left as-is so a misconfigured variable is
// visible instead of silently blank.
type SMTPSender struct {
	cfg    config.SMTPSendConfig
	signer *signer
}

// NewSMTPSender creates a direct SMTP sender. DKIM signing is enabled
// when configured.
func NewSMTPSender(cfg config.SMTPSendConfig) (*SMTPSender, error) {
	s := &SMTPSender{cfg: cfg}
	if cfg.DKIM.Enabled {
		key, err := loadPrivateKey(cfg.DKIM.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		s.signer = &signer{
			key:      key,
			domain:   cfg.DKIM.Domain,
			selector: cfg.DKIM.Selector,
		}
	}
	return s, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	to := msg.Recipients[0]

	subject := renderVars(msg.Subject, msg.Variables)
	html := renderVars(msg.HTML, msg.Variables)

	raw := s.buildMessage(to, subject, html)

	if s.signer != nil {
		signed, err := s.signer.sign(raw)
		if err != nil {
			return fmt.Errorf("dkim sign: %w", err)
		}
		raw = signed
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth sasl.Client
	if s.cfg.Username != "" {
		auth = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.cfg.From, []string{to.Email}, bytes.NewReader(raw))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp submit: %w", err)
		}
		return nil
	}
}

func (s *SMTPSender) buildMessage(to Address, subject, html string) []byte {
	var buf bytes.Buffer

	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = mime.QEncoding.Encode("utf-8", s.cfg.FromName) + " <" + s.cfg.From + ">"
	}
	toHeader := to.Email
	if to.Name != "" {
		toHeader = mime.QEncoding.Encode("utf-8", to.Name) + " <" + to.Email + ">"
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", toHeader)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	buf.WriteString("\r\n")

	return buf.Bytes()
}

// renderVars substitutes {{variable}} patterns; unknown variables keep
// their literal placeholder.
func renderVars(s string, vars map[string]string) string {
	if s == "" {
		return s
	}
	return smtpVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// signer signs outgoing messages with DKIM.
type signer struct {
	key      *rsa.PrivateKey
	domain   string
	selector string
}

func (s *signer) sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, err
	}
	return signed.Bytes(), nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T, need RSA", parsed)
	}
	return key, nil
}
