// Package api exposes the wallet over HTTP for local frontends.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"walletcore/native/multisig"
	"walletcore/router"
	"walletcore/wallet"
)

// Recoverer triggers state rebuilds on demand.
type Recoverer interface {
	RecoverAll(ctx context.Context) error
}

// Inbound consumes backend push messages.
type Inbound interface {
	Handle(ctx context.Context, msg router.Message) error
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Service   *wallet.Service
	Recoverer Recoverer
	Inbound   Inbound
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Server encapsulates the HTTP API.
type Server struct {
	service   *wallet.Service
	recoverer Recoverer
	inbound   Inbound
	log       *slog.Logger
	router    http.Handler
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{service: cfg.Service, recoverer: cfg.Recoverer, inbound: cfg.Inbound, log: log}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/accounts", s.handleProposeAccount)
		api.Get("/accounts", s.handleListAccounts)
		api.Get("/accounts/{id}", s.handleGetAccount)
		api.Post("/accounts/{id}/confirm", s.handleConfirmAccount)
		api.Delete("/accounts/{id}", s.handleCancelAccount)
		api.Post("/queues", s.handleCreateQueue)
		api.Get("/queues/{id}", s.handleGetQueue)
		api.Get("/queues/{id}/signers", s.handleQueueSigners)
		api.Get("/queues/{id}/fee", s.handleQueueFee)
		api.Post("/queues/{id}/sign", s.handleSignQueue)
		api.Post("/queues/{id}/execute", s.handleExecuteQueue)
		api.Post("/recover", s.handleRecover)
		api.Post("/events", s.handleInboundEvent)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, multisig.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, multisig.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, multisig.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, multisig.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return multisig.ErrValidation
	}
	return nil
}

type proposeAccountRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	AddressType string `json:"addressType"`
	ChainCode   string `json:"chainCode"`
	Initiator   string `json:"initiator"`
	Threshold   int    `json:"threshold"`
	Members     []struct {
		Name       string `json:"name"`
		Address    string `json:"address"`
		PublicKey  string `json:"publicKey"`
		IdentityID string `json:"identityId"`
		IsSelf     bool   `json:"isSelf"`
	} `json:"members"`
}

func (s *Server) handleProposeAccount(w http.ResponseWriter, r *http.Request) {
	var req proposeAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	input := multisig.ProposeAccountInput{
		ID:          req.ID,
		Name:        req.Name,
		Address:     req.Address,
		AddressType: req.AddressType,
		ChainCode:   req.ChainCode,
		Initiator:   req.Initiator,
		Threshold:   req.Threshold,
	}
	for _, m := range req.Members {
		input.Members = append(input.Members, multisig.MemberInput{
			Name:       m.Name,
			Address:    m.Address,
			PublicKey:  m.PublicKey,
			IdentityID: m.IdentityID,
			IsSelf:     m.IsSelf,
		})
	}
	acct, err := s.service.ProposeAccount(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.service.Engine().Accounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.service.Engine().Account(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type confirmAccountRequest struct {
	Address    string `json:"address"`
	PublicKey  string `json:"publicKey"`
	IdentityID string `json:"identityId"`
}

func (s *Server) handleConfirmAccount(w http.ResponseWriter, r *http.Request) {
	var req confirmAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.service.ConfirmParticipation(r.Context(), id, req.Address, req.PublicKey, req.IdentityID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createQueueRequest struct {
	ID           string `json:"id"`
	AccountID    string `json:"accountId"`
	To           string `json:"to"`
	Value        string `json:"value"`
	Symbol       string `json:"symbol"`
	TokenAddress string `json:"tokenAddress"`
	Expiration   int64  `json:"expiration"`
	Notes        string `json:"notes"`
	Password     string `json:"password"`
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	queue, err := s.service.CreateTransfer(r.Context(), multisig.CreateQueueInput{
		ID:        req.ID,
		AccountID: req.AccountID,
		Intent: multisig.TransferIntent{
			To:           req.To,
			Value:        req.Value,
			Symbol:       req.Symbol,
			TokenAddress: req.TokenAddress,
			Expiration:   req.Expiration,
			Notes:        req.Notes,
		},
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, queue)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.service.Engine().Queue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (s *Server) handleQueueSigners(w http.ResponseWriter, r *http.Request) {
	states, err := s.service.Engine().MemberSignStates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleQueueFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.service.Engine().EstimateFee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fee)
}

type signQueueRequest struct {
	Approve  bool   `json:"approve"`
	Password string `json:"password"`
}

func (s *Server) handleSignQueue(w http.ResponseWriter, r *http.Request) {
	var req signQueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	verdict := multisig.SigRejected
	if req.Approve {
		verdict = multisig.SigApproved
	}
	if err := s.service.Sign(r.Context(), chi.URLParam(r, "id"), verdict, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeQueueRequest struct {
	Password string `json:"password"`
}

type executeQueueResponse struct {
	TxHash string `json:"txHash"`
}

func (s *Server) handleExecuteQueue(w http.ResponseWriter, r *http.Request) {
	var req executeQueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	txHash, err := s.service.Execute(r.Context(), chi.URLParam(r, "id"), req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeQueueResponse{TxHash: txHash})
}

// handleInboundEvent accepts one backend push message and feeds it to the
// inbound router. A 204 means the message is consumed and must not be
// redelivered.
func (s *Server) handleInboundEvent(w http.ResponseWriter, r *http.Request) {
	if s.inbound == nil {
		s.writeError(w, errors.New("inbound routing not configured"))
		return
	}
	var msg router.Message
	if err := decodeBody(r, &msg); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.inbound.Handle(r.Context(), msg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if s.recoverer == nil {
		s.writeError(w, errors.New("recovery not configured"))
		return
	}
	if err := s.recoverer.RecoverAll(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
