package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/aichat/relay/internal/api"
	"github.com/aichat/relay/internal/auth"
	"github.com/aichat/relay/internal/config"
	"github.com/aichat/relay/internal/llm"
	"github.com/aichat/relay/internal/logger"
	"github.com/aichat/relay/internal/pipeline"
	"github.com/aichat/relay/internal/session"
	"github.com/aichat/relay/internal/store"
	"github.com/aichat/relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.L.Error("failed to open message store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gen := llm.NewGenerator(llm.NewClient(cfg.LLM), cfg.LLM.Model)
	verifier := auth.NewJWTVerifier(cfg.Auth)
	p := pipeline.New(st, gen)
	registry := session.NewRegistry()
	rooms := session.NewRouter()

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(verifier, registry, rooms, p))
	api.New(verifier, st, p).Register(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, registry.Len())
	})

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, mux); err != nil {
		logger.L.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}
