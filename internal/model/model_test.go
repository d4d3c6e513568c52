package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIdentity(t *testing.T) {
	tests := []struct {
		name                  string
		company, agent, thread string
		want                  Identity
	}{
		{"defaults", "", "perseo", "", Identity{"default", "PERSEO", "main"}},
		{"whitespace company", "   ", "Thalos", "t1", Identity{"default", "THALOS", "t1"}},
		{"explicit", "acme", "RAFAEL", "task_7", Identity{"acme", "RAFAEL", "task_7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewIdentity(tt.company, tt.agent, tt.thread))
		})
	}
}

func TestNormalizeAgentName(t *testing.T) {
	assert.Equal(t, "ZEUS CORE", NormalizeAgentName("zeus_core"))
	assert.Equal(t, "ZEUS CORE", NormalizeAgentName("Zeus-Core"))
	assert.Equal(t, "PERSEO", NormalizeAgentName(" perseo "))
}

func TestTaskThreadID(t *testing.T) {
	assert.Equal(t, "task_42", TaskThreadID(42))
}

func TestActivityStatusTransitions(t *testing.T) {
	tests := []struct {
		status   ActivityStatus
		terminal bool
		stamps   bool
	}{
		{ActivityPending, false, false},
		{ActivityInProgress, false, false},
		{ActivityExecuted, true, true},
		{ActivityExecutedInternal, true, true},
		{ActivityFailed, true, true},
		{ActivityBlockedMissingHandler, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.stamps, tt.status.StampsCompletion())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, ActivityStatus("done").Valid())
}

func TestNormalizeHandlerStatus(t *testing.T) {
	assert.Equal(t, ActivityExecuted, NormalizeHandlerStatus("completed"))
	assert.Equal(t, ActivityExecuted, NormalizeHandlerStatus(""))
	assert.Equal(t, ActivityExecutedInternal, NormalizeHandlerStatus("executed_internal"))
	assert.Equal(t, ActivityFailed, NormalizeHandlerStatus("failed"))
	assert.Equal(t, ActivityBlockedMissingHandler, NormalizeHandlerStatus("blocked_missing_handler"))
}

func TestStateUpdateApplyPreservesAbsentFields(t *testing.T) {
	task := "X"
	blocked := "blocked"
	s := StateUpdate{CurrentTask: &task}.Apply(OperationalState{})
	s = StateUpdate{Status: &blocked}.Apply(s)
	assert.Equal(t, "X", s.CurrentTask)
	assert.Equal(t, "blocked", s.Status)
	assert.Empty(t, s.NextAction)
}

func TestShortTermBufferExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := ShortTermBuffer{ExpiresAt: now.Add(ShortTermTTL)}
	assert.False(t, b.Expired(now.Add(5*time.Hour)))
	assert.True(t, b.Expired(now.Add(7*time.Hour)))
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAtLeast(RoleSuperuser, RoleAdmin))
	assert.True(t, RoleAtLeast(RoleOperator, RoleOperator))
	assert.False(t, RoleAtLeast(RoleAdmin, RoleSuperuser))
	assert.False(t, RoleAtLeast(Role("ghost"), RoleReader))
}

func TestExecuteActionRequestValidate(t *testing.T) {
	assert.NoError(t, ExecuteActionRequest{Agent: "THALOS", ActionType: "security_scan"}.Validate())
	assert.Error(t, ExecuteActionRequest{ActionType: "security_scan"}.Validate())
	assert.Error(t, ExecuteActionRequest{Agent: "THALOS"}.Validate())
	assert.Error(t, ExecuteActionRequest{Agent: "THALOS", ActionType: "x", Priority: "urgent"}.Validate())
}

func TestLogActivityRequestValidate(t *testing.T) {
	base := LogActivityRequest{AgentName: "PERSEO", ActionType: "campaign_report"}
	assert.NoError(t, base.Validate())

	for _, status := range []ActivityStatus{ActivityPending, ActivityFailed} {
		r := base
		r.Status = status
		assert.NoError(t, r.Validate(), status)
	}
	for _, status := range []ActivityStatus{ActivityInProgress, ActivityExecuted, ActivityExecutedInternal, ActivityBlockedMissingHandler, "done"} {
		r := base
		r.Status = status
		assert.Error(t, r.Validate(), status)
	}
}
