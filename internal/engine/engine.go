// ABOUTME: Composition root wiring config, stores, ledger, decision engines, and orchestrator
// ABOUTME: Owns agent lifecycles, message fan-out, and the periodic cleanup sweep

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcs/ollama-discord/internal/config"
	"github.com/rcs/ollama-discord/internal/conversation"
	"github.com/rcs/ollama-discord/internal/coordination"
	"github.com/rcs/ollama-discord/internal/decision"
	"github.com/rcs/ollama-discord/internal/ollama"
	"github.com/rcs/ollama-discord/internal/orchestrator"
	"github.com/rcs/ollama-discord/internal/ratelimit"
)

// Engine holds every running agent plus the collaborators they share. One
// Engine per process.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	ledger *coordination.Ledger
	orch   *orchestrator.Orchestrator
	agents []*orchestrator.Agent
	byName map[string]*orchestrator.Agent

	wg sync.WaitGroup
}

// NewStore opens the conversation backend configured for one agent.
func NewStore(cfg *config.Config, agent string, logger *slog.Logger) (conversation.Store, error) {
	switch cfg.Global.Storage.Backend {
	case config.BackendSQLite:
		return conversation.NewSQLiteStore(agent, cfg.Global.Storage.DatabasePath, cfg.Global.MaxHistory, cfg.Global.SessionTimeout, logger)
	case config.BackendFile:
		return conversation.NewFileStore(agent, cfg.Global.Storage.DataDir, cfg.Global.MaxHistory, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Global.Storage.Backend)
	}
}

// New builds the full engine from a validated config: one store, Ollama
// client, and decision engine per enabled agent, all sharing one ledger
// and one notifier.
func New(cfg *config.Config, notifier orchestrator.Notifier, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	limiter := ratelimit.New(cfg.Global.RateLimitPerMinute, time.Minute)
	ledger := coordination.NewLedger(cfg.Global.MaxConcurrentResponses, cfg.Global.CooldownPeriod, limiter, logger)

	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
		ledger: ledger,
		orch:   orchestrator.New(ledger, notifier, cfg.Global.ContextDepth, logger),
		byName: make(map[string]*orchestrator.Agent),
	}

	for _, ac := range cfg.EnabledAgents() {
		persona, err := config.LoadPersona(ac.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", ac.Name, err)
		}

		store, err := NewStore(cfg, ac.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("agent %q: opening store: %w", ac.Name, err)
		}

		agent := &orchestrator.Agent{
			Name:         ac.Name,
			SystemPrompt: persona.SystemPrompt,
			Matcher:      ac.Matcher(),
			Store:        store,
			Completer:    ollama.NewClient(persona.BaseURL, persona.Model, persona.RequestTimeout),
			Engine:       decision.NewEngine(cfg.Global.DelayMin, cfg.Global.DelayMax, ac.AlwaysRespond, nil, logger),
		}
		e.agents = append(e.agents, agent)
		e.byName[ac.Name] = agent

		logger.Info("agent ready",
			"agent", ac.Name,
			"model", persona.Model,
			"channels", ac.Channels,
		)
	}

	return e, nil
}

// Agents returns the running agents, roster order.
func (e *Engine) Agents() []*orchestrator.Agent {
	return e.agents
}

// Dispatch fans one inbound message out to the agents assigned to its
// channel, highest priority first, each on its own goroutine. The ledger
// still gates each agent individually. Returns immediately; Wait blocks
// until in-flight pipelines finish.
func (e *Engine) Dispatch(ctx context.Context, msg orchestrator.InboundMessage) {
	for _, ac := range e.cfg.AgentsForChannel(msg.ChannelName) {
		agent, ok := e.byName[ac.Name]
		if !ok {
			continue
		}
		e.wg.Add(1)
		go func(a *orchestrator.Agent) {
			defer e.wg.Done()
			e.orch.HandleMessage(ctx, a, msg)
		}(agent)
	}
}

// Wait blocks until every dispatched pipeline has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run performs periodic retention sweeps until ctx is cancelled, then
// drains in-flight pipelines. Retention 0 disables the sweep.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Global.Retention > 0 {
		ticker := time.NewTicker(e.cfg.Global.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.wg.Wait()
				return ctx.Err()
			case <-ticker.C:
				e.sweep(ctx)
			}
		}
	}

	<-ctx.Done()
	e.wg.Wait()
	return ctx.Err()
}

func (e *Engine) sweep(ctx context.Context) {
	for _, agent := range e.agents {
		removed, err := agent.Store.Cleanup(ctx, e.cfg.Global.Retention)
		if err != nil {
			e.logger.Warn("retention sweep failed", "agent", agent.Name, "error", err)
			continue
		}
		if removed > 0 {
			e.logger.Info("retention sweep", "agent", agent.Name, "removed", removed)
		}
	}
}

// Close shuts down every agent's store, flushing pending writes.
func (e *Engine) Close() error {
	var firstErr error
	for _, agent := range e.agents {
		if err := agent.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
