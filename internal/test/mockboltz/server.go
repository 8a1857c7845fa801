package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/websocket"

	log "github.com/sirupsen/logrus"
)

// A minimal in-memory swap provider for manual testing: serves the pair
// tables, creates swaps with throwaway server keys and lets the operator
// push status updates to connected websocket clients via POST /push.

type server struct {
	mu      sync.Mutex
	swaps   map[string]struct{}
	conns   map[*websocket.Conn]map[string]struct{}
	nextID  int
	limits  boltz.PairLimits
	upgrade websocket.Upgrader
}

func newServer(minimal, maximal uint64) *server {
	return &server{
		swaps:  make(map[string]struct{}),
		conns:  make(map[*websocket.Conn]map[string]struct{}),
		limits: boltz.PairLimits{Minimal: minimal, Maximal: maximal},
	}
}

func (s *server) newSwapID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("mock%06d", s.nextID)
	s.swaps[id] = struct{}{}
	return id
}

func randomKey() string {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(key.PubKey().SerializeCompressed())
}

func randomTree() boltz.SwapTree {
	leaf := func() boltz.Leaf {
		var b [32]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic(err)
		}
		h := sha256.Sum256(b[:])
		// OP_SHA256 <hash> OP_EQUALVERIFY style placeholder script
		return boltz.Leaf{Version: 192, Output: "a820" + hex.EncodeToString(h[:]) + "88"}
	}
	return boltz.SwapTree{ClaimLeaf: leaf(), RefundLeaf: leaf()}
}

func (s *server) handleSubmarinePairs(w http.ResponseWriter, _ *http.Request) {
	pairs := boltz.SubmarinePairs{
		boltz.CurrencyLiquid: {boltz.CurrencyBtc: {Limits: s.limits}},
		boltz.CurrencyBtc:    {boltz.CurrencyLiquid: {Limits: s.limits}},
	}
	writeJSON(w, pairs)
}

func (s *server) handleReversePairs(w http.ResponseWriter, _ *http.Request) {
	pairs := boltz.ReversePairs{
		boltz.CurrencyBtc: {
			boltz.CurrencyLiquid: {Limits: s.limits},
			boltz.CurrencyBtc:    {Limits: s.limits},
		},
	}
	writeJSON(w, pairs)
}

func (s *server) handleChainPairs(w http.ResponseWriter, _ *http.Request) {
	pairs := boltz.ChainPairs{
		boltz.CurrencyBtc:    {boltz.CurrencyLiquid: {Limits: s.limits}},
		boltz.CurrencyLiquid: {boltz.CurrencyBtc: {Limits: s.limits}},
	}
	writeJSON(w, pairs)
}

func (s *server) handleCreateSubmarine(w http.ResponseWriter, r *http.Request) {
	var req boltz.CreateSubmarineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, boltz.CreateSubmarineResponse{
		ID:             s.newSwapID(),
		Address:        "mockLockupAddress",
		SwapTree:       randomTree(),
		ClaimPublicKey: randomKey(),
		ExpectedAmount: 1000,
	})
}

func (s *server) handleCreateReverse(w http.ResponseWriter, r *http.Request) {
	var req boltz.CreateReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, boltz.CreateReverseResponse{
		ID:              s.newSwapID(),
		Invoice:         "lnbcmockinvoice",
		LockupAddress:   "mockLockupAddress",
		SwapTree:        randomTree(),
		RefundPublicKey: randomKey(),
		OnchainAmount:   req.InvoiceAmount,
	})
}

func (s *server) handleCreateChain(w http.ResponseWriter, r *http.Request) {
	var req boltz.CreateChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	side := func() *boltz.ChainSwapSide {
		return &boltz.ChainSwapSide{
			SwapTree:        randomTree(),
			LockupAddress:   "mockLockupAddress",
			ServerPublicKey: randomKey(),
			Amount:          req.UserLockAmount,
		}
	}
	writeJSON(w, boltz.ChainSwapData{
		ID:            s.newSwapID(),
		ClaimDetails:  side(),
		LockupDetails: side(),
	})
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.conns[conn] = make(map[string]struct{})
	s.mu.Unlock()
	log.Info("websocket client connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		// nolint:all
		conn.Close()
	}()

	for {
		var msg struct {
			Op      string   `json:"op"`
			Channel string   `json:"channel"`
			Args    []string `json:"args"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != "subscribe" || msg.Channel != "swap.update" {
			continue
		}
		s.mu.Lock()
		for _, id := range msg.Args {
			s.conns[conn][id] = struct{}{}
		}
		s.mu.Unlock()
		// nolint:all
		conn.WriteJSON(map[string]any{
			"event": "subscribe", "channel": "swap.update", "args": msg.Args,
		})
		log.Infof("client subscribed to %v", msg.Args)
	}
}

// handlePush lets the operator fake a provider status transition:
// POST /push {"id": "...", "status": "transaction.mempool"}.
func (s *server) handlePush(w http.ResponseWriter, r *http.Request) {
	var update boltz.SwapUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"event":   "update",
		"channel": "swap.update",
		"args":    []boltz.SwapUpdate{update},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for conn, subs := range s.conns {
		if _, ok := subs[update.ID]; !ok {
			continue
		}
		if err := conn.WriteJSON(payload); err != nil {
			log.WithError(err).Warn("failed to push update")
			continue
		}
		sent++
	}
	log.Infof("pushed %s/%s to %d clients", update.ID, update.Status, sent)
	writeJSON(w, map[string]int{"delivered": sent})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	// nolint:all
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":9001", "listen address")
	minimal := flag.Uint64("minimal", 1000, "pair minimal limit")
	maximal := flag.Uint64("maximal", 100000, "pair maximal limit")
	flag.Parse()

	s := newServer(*minimal, *maximal)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/swap/submarine", s.handleSubmarinePairs)
	mux.HandleFunc("GET /v2/swap/reverse", s.handleReversePairs)
	mux.HandleFunc("GET /v2/swap/chain", s.handleChainPairs)
	mux.HandleFunc("POST /v2/swap/submarine", s.handleCreateSubmarine)
	mux.HandleFunc("POST /v2/swap/reverse", s.handleCreateReverse)
	mux.HandleFunc("POST /v2/swap/chain", s.handleCreateChain)
	mux.HandleFunc("/v2/ws", s.handleWS)
	mux.HandleFunc("POST /push", s.handlePush)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Infof("mock swap provider listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	// nolint:all
	srv.Close()
	log.Info("shutting down mock provider")
}
