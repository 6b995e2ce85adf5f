package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// The built-in executors log the action and report what they did through the
// output variables. Production deployments swap in executors backed by real
// firewall, IAM and EDR integrations.

// BlockIPExecutor blocks an IP address at the network edge.
type BlockIPExecutor struct {
	logger *slog.Logger
}

func NewBlockIPExecutor() *BlockIPExecutor {
	return &BlockIPExecutor{logger: slog.Default().With("action", "block_ip")}
}

func (x *BlockIPExecutor) Type() ActionType { return ActionBlockIP }

func (x *BlockIPExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	ip, _ := action.Params["ip"].(string)
	if ip == "" {
		ip, _ = vars["source_ip"].(string)
	}
	if ip == "" {
		return nil, fmt.Errorf("block_ip: no ip to block")
	}

	x.logger.Info("blocking ip", "ip", ip)
	return map[string]any{"blocked_ip": ip, "blocked_at": time.Now().UTC()}, nil
}

// DisableAccountExecutor disables a user account.
type DisableAccountExecutor struct {
	logger *slog.Logger
}

func NewDisableAccountExecutor() *DisableAccountExecutor {
	return &DisableAccountExecutor{logger: slog.Default().With("action", "disable_account")}
}

func (x *DisableAccountExecutor) Type() ActionType { return ActionDisableAccount }

func (x *DisableAccountExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	account, _ := action.Params["account"].(string)
	if account == "" {
		account, _ = vars["account"].(string)
	}
	if account == "" {
		return nil, fmt.Errorf("disable_account: no account given")
	}

	x.logger.Info("disabling account", "account", account)
	return map[string]any{"disabled_account": account}, nil
}

// RevokeSessionsExecutor revokes all active sessions for an account.
type RevokeSessionsExecutor struct {
	logger *slog.Logger
}

func NewRevokeSessionsExecutor() *RevokeSessionsExecutor {
	return &RevokeSessionsExecutor{logger: slog.Default().With("action", "revoke_sessions")}
}

func (x *RevokeSessionsExecutor) Type() ActionType { return ActionRevokeSessions }

func (x *RevokeSessionsExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	account, _ := action.Params["account"].(string)
	if account == "" {
		account, _ = vars["account"].(string)
	}

	x.logger.Info("revoking sessions", "account", account)
	return map[string]any{"revoked_for": account}, nil
}

// IsolateHostExecutor isolates a host from the network.
type IsolateHostExecutor struct {
	logger *slog.Logger
}

func NewIsolateHostExecutor() *IsolateHostExecutor {
	return &IsolateHostExecutor{logger: slog.Default().With("action", "isolate_host")}
}

func (x *IsolateHostExecutor) Type() ActionType { return ActionIsolateHost }

func (x *IsolateHostExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	host, _ := action.Params["host"].(string)
	if host == "" {
		host, _ = vars["host"].(string)
	}
	if host == "" {
		return nil, fmt.Errorf("isolate_host: no host given")
	}

	x.logger.Info("isolating host", "host", host)
	return map[string]any{"isolated_host": host}, nil
}

// SnapshotHostExecutor captures a forensic snapshot of a host.
type SnapshotHostExecutor struct {
	logger *slog.Logger
}

func NewSnapshotHostExecutor() *SnapshotHostExecutor {
	return &SnapshotHostExecutor{logger: slog.Default().With("action", "snapshot_host")}
}

func (x *SnapshotHostExecutor) Type() ActionType { return ActionSnapshotHost }

func (x *SnapshotHostExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	host, _ := action.Params["host"].(string)
	if host == "" {
		host, _ = vars["host"].(string)
	}

	x.logger.Info("snapshotting host", "host", host)
	return map[string]any{"snapshot_host": host, "snapshot_at": time.Now().UTC()}, nil
}

// NotifyExecutor posts a message to the response channel.
type NotifyExecutor struct {
	logger *slog.Logger
}

func NewNotifyExecutor() *NotifyExecutor {
	return &NotifyExecutor{logger: slog.Default().With("action", "notify")}
}

func (x *NotifyExecutor) Type() ActionType { return ActionNotify }

func (x *NotifyExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	message, _ := action.Params["message"].(string)
	x.logger.Info("response notification", "message", message)
	return map[string]any{"notified": true}, nil
}

// TicketExecutor opens a tracking ticket for the incident.
type TicketExecutor struct {
	logger *slog.Logger
}

func NewTicketExecutor() *TicketExecutor {
	return &TicketExecutor{logger: slog.Default().With("action", "create_ticket")}
}

func (x *TicketExecutor) Type() ActionType { return ActionTicket }

func (x *TicketExecutor) Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error) {
	summary, _ := action.Params["summary"].(string)
	x.logger.Info("creating ticket", "summary", summary)
	return map[string]any{"ticket_created": true}, nil
}

// BuiltinExecutors returns the default executor set.
func BuiltinExecutors() []ActionExecutor {
	return []ActionExecutor{
		NewBlockIPExecutor(),
		NewDisableAccountExecutor(),
		NewRevokeSessionsExecutor(),
		NewIsolateHostExecutor(),
		NewSnapshotHostExecutor(),
		NewNotifyExecutor(),
		NewTicketExecutor(),
	}
}
