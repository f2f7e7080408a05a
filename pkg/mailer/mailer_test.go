package mailer

import (
	"context"
	"testing"

	"github.com/Mule-Mart/Mule-Mart/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewPicksTransport(t *testing.T) {
	assert.IsType(t, &LogMailer{}, New(config.MailConfig{}, zap.NewNop()))
	assert.IsType(t, &SMTPMailer{}, New(config.MailConfig{Host: "smtp.example.com", Port: 587}, zap.NewNop()))
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewLogMailer(zap.New(core))

	require.NoError(t, m.Send(context.Background(), "a@example.com", "Hello", "Body"))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "a@example.com", fields["to"])
	assert.NotContains(t, fields, "body")
}

func TestLogMailerBodyOnlyAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewLogMailer(zap.New(core))

	require.NoError(t, m.Send(context.Background(), "a@example.com", "Reset", "token=secret"))
	debug := logs.FilterLevelExact(zapcore.DebugLevel).All()
	require.Len(t, debug, 1)
	assert.Equal(t, "token=secret", debug[0].ContextMap()["body"])
	for _, entry := range logs.FilterLevelExact(zapcore.InfoLevel).All() {
		assert.NotContains(t, entry.ContextMap(), "body")
	}
}

func TestSMTPMailerHonoursCancelledContext(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{Host: "127.0.0.1", Port: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Send(ctx, "a@example.com", "s", "b"), context.Canceled)
}

func TestEmailTemplates(t *testing.T) {
	subject, body := VerificationEmail("https://mulemart.example", "Ada", "tok.en")
	assert.Equal(t, "Verify your Mule Mart account", subject)
	assert.Contains(t, body, "https://mulemart.example/api/v1/auth/verify/tok.en")
	assert.Contains(t, body, "Hi Ada")

	_, body = PasswordResetEmail("https://mulemart.example", "Ada", "a+b")
	assert.Contains(t, body, "reset-password?token=a%2Bb")
}
