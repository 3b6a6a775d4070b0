package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/config"
	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/gateway"
	"github.com/user/soulsync/internal/memory"
	"github.com/user/soulsync/internal/prompt"
	"github.com/user/soulsync/internal/session"
	"github.com/user/soulsync/internal/state"
	"github.com/user/soulsync/internal/technique"
	"github.com/user/soulsync/internal/types"
	"github.com/user/soulsync/pkg/llm"
	"github.com/user/soulsync/pkg/llm/openai"
)

// app holds the stores and engines shared by every command.
type app struct {
	cfg      *config.Config
	index    *state.SessionStore
	events   *state.EventStore
	durable  types.MemoryDurable
	mem      *memory.Store
	detector *crisis.Detector
	selector *technique.Selector
	prompts  *prompt.Engine
	client   *openai.Client
}

// openApp wires the stores and engines. When needLLM is set a missing API
// key is an error; otherwise the client is left nil and the dense index
// falls back to TF-IDF.
func openApp(ctx context.Context, cfg *config.Config, needLLM bool, crisisOpts ...crisis.Option) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{
		cfg:    cfg,
		index:  state.NewSessionStore(cfg.DataDir),
		events: state.NewEventStore(cfg.DataDir),
	}

	client, err := openai.New(&llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
	})
	switch {
	case err == nil:
		a.client = client
	case needLLM:
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	var index memory.Index
	switch cfg.Memory.Index {
	case "dense":
		if a.client == nil {
			log.Warn().Msg("dense index needs an API key, falling back to tfidf")
			index = memory.NewTFIDF()
		} else {
			index = memory.NewDense(a.client)
		}
	case "tfidf", "":
		index = memory.NewTFIDF()
	default:
		return nil, fmt.Errorf("unknown memory index %q", cfg.Memory.Index)
	}

	switch cfg.Memory.Backend {
	case "sqlite":
		store, err := state.OpenSQLiteStore(filepath.Join(cfg.DataDir, "memory.db"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite memory: %w", err)
		}
		a.durable = store
	case "json", "":
		a.durable = state.NewSnapshotStore(filepath.Join(cfg.DataDir, "memory.json"))
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}

	if a.mem, err = memory.New(ctx, a.durable, index); err != nil {
		a.durable.Close()
		return nil, err
	}

	crisisOpts = append([]crisis.Option{crisis.WithJournal(a.events)}, crisisOpts...)
	if a.detector, err = crisis.New(crisisOpts...); err != nil {
		a.durable.Close()
		return nil, fmt.Errorf("load crisis taxonomy: %w", err)
	}
	if a.selector, err = technique.New(); err != nil {
		a.durable.Close()
		return nil, fmt.Errorf("load techniques: %w", err)
	}
	if a.prompts, err = prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve); err != nil {
		a.durable.Close()
		return nil, fmt.Errorf("create prompt engine: %w", err)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.durable.Close()
}

// factory builds orchestrators for the gateway. Requires the LLM client.
func (a *app) factory() gateway.Factory {
	return func(key types.SessionKey) (*session.Orchestrator, error) {
		if a.client == nil {
			return nil, openai.ErrMissingAPIKey
		}
		opts := []session.Option{
			session.WithJournal(a.events, key),
			session.WithTimeout(a.cfg.Timeout()),
			session.WithMaxMessages(a.cfg.Session.MaxMessages),
			session.WithLookback(a.cfg.Lookback()),
			session.WithRecall(a.cfg.Memory.Recall),
		}
		if a.cfg.Session.Insights {
			opts = append(opts, session.WithExtractor(a.client))
		}
		return session.New(a.client, a.mem, a.detector, a.selector, a.prompts, opts...)
	}
}

func (a *app) newGateway() *gateway.Gateway {
	return gateway.New(a.index, a.factory(), int64(a.cfg.MaxConcurrent))
}
