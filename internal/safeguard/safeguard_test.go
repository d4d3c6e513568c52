package safeguard_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/safeguard"
)

func TestIsProtectedIP(t *testing.T) {
	t.Parallel()
	cfg := safeguard.DefaultConfig()
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{" ::1 ", true},
		{"localhost", true},
		{"127.0.0.2", false},
		{"10.0.0.1", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeguard.IsProtectedIP(cfg, tt.ip), tt.ip)
	}
}

func TestIsProtectedUser(t *testing.T) {
	t.Parallel()
	cfg := safeguard.DefaultConfig()
	tests := []struct {
		id   string
		want bool
	}{
		{"admin", true},
		{"SuperAdmin@corp.io", true},
		{"MarketingDigitalPer.SEO@gmail.com", true},
		{"root_backup", true},
		{"maria@acme.es", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeguard.IsProtectedUser(cfg, tt.id), tt.id)
	}
}

func TestIsCriticalAction(t *testing.T) {
	t.Parallel()
	cfg := safeguard.DefaultConfig()
	assert.True(t, safeguard.IsCriticalAction(cfg, "Recomiendo BLOQUEAR la IP 10.0.0.5"))
	assert.True(t, safeguard.IsCriticalAction(cfg, "revoke the leaked token"))
	assert.False(t, safeguard.IsCriticalAction(cfg, "Todo en orden, sin incidencias"))
}

func TestNewRejectsUnsafeConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*safeguard.Config)
	}{
		{"auto isolation", func(c *safeguard.Config) { c.AutoIsolation = true }},
		{"no human approval", func(c *safeguard.Config) { c.RequiresHumanApproval = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := safeguard.DefaultConfig()
			tt.mutate(&cfg)
			_, err := safeguard.New(cfg)
			assert.ErrorIs(t, err, safeguard.ErrUnsafeConfig)
		})
	}
}

func TestConfigIsCopied(t *testing.T) {
	t.Parallel()
	cfg := safeguard.DefaultConfig()
	p, err := safeguard.New(cfg)
	require.NoError(t, err)

	cfg.ProtectedIPs[0] = "8.8.8.8"
	got := p.Config()
	got.ProtectedIPs[1] = "9.9.9.9"

	assert.Equal(t, safeguard.DefaultProtectedIPs, p.Config().ProtectedIPs)
}

func countingDecide(calls *int, content string) safeguard.DecideFunc {
	return func(context.Context) (model.Decision, error) {
		*calls++
		return model.Decision{Success: true, Agent: "THALOS", Content: content, Confidence: 0.97}, nil
	}
}

func TestEvaluateProtectedIPShortCircuits(t *testing.T) {
	t.Parallel()
	p, err := safeguard.New(safeguard.DefaultConfig())
	require.NoError(t, err)

	calls := 0
	d, err := p.Evaluate(context.Background(),
		safeguard.Request{Agent: "THALOS", TargetIP: "127.0.0.1"},
		countingDecide(&calls, "ok"))
	require.NoError(t, err)

	assert.Equal(t, 0, calls)
	assert.True(t, d.Blocked())
	assert.True(t, d.HumanApprovalRequired)
	assert.Equal(t, safeguard.ReasonProtectedIP, d.Reason)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, safeguard.ActionProtectionOverride, d.Metadata["action_type"])
}

func TestEvaluateProtectedUserShortCircuits(t *testing.T) {
	t.Parallel()
	p, err := safeguard.New(safeguard.DefaultConfig())
	require.NoError(t, err)

	calls := 0
	d, err := p.Evaluate(context.Background(),
		safeguard.Request{Agent: "THALOS", TargetIP: "10.1.1.1", TargetUser: "ops-admin@acme.es"},
		countingDecide(&calls, "ok"))
	require.NoError(t, err)

	assert.Equal(t, 0, calls)
	assert.True(t, d.Blocked())
	assert.Equal(t, safeguard.ReasonProtectedUser, d.Reason)
}

func TestEvaluateCriticalContentForcesApproval(t *testing.T) {
	t.Parallel()
	p, err := safeguard.New(safeguard.DefaultConfig())
	require.NoError(t, err)

	calls := 0
	d, err := p.Evaluate(context.Background(),
		safeguard.Request{Agent: "THALOS", TargetIP: "10.0.0.5"},
		countingDecide(&calls, "Conviene bloquear el rango 10.0.0.0/24"))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.False(t, d.Blocked())
	assert.True(t, d.HumanApprovalRequired)
	assert.Equal(t, safeguard.ReasonCritical, d.ApprovalReason)
}

func TestEvaluateBenignContentPassesThrough(t *testing.T) {
	t.Parallel()
	p, err := safeguard.New(safeguard.DefaultConfig())
	require.NoError(t, err)

	calls := 0
	d, err := p.Evaluate(context.Background(), safeguard.Request{Agent: "THALOS"},
		countingDecide(&calls, "Los registros no muestran anomalías"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, d.HumanApprovalRequired)
	assert.Empty(t, d.ApprovalReason)
}

func TestEvaluatePropagatesDecideError(t *testing.T) {
	t.Parallel()
	p, err := safeguard.New(safeguard.DefaultConfig())
	require.NoError(t, err)

	boom := errors.New("provider down")
	_, err = p.Evaluate(context.Background(), safeguard.Request{Agent: "THALOS"},
		func(context.Context) (model.Decision, error) { return model.Decision{}, boom })
	assert.ErrorIs(t, err, boom)
}
