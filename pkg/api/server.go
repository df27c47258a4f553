package api

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/oracle"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/settlement"
	"github.com/uhyunpark/escrowmarket/pkg/app/market"
	"github.com/uhyunpark/escrowmarket/pkg/metrics"
)

const maxTxBytes = 64 << 10

type Config struct {
	AllowedOrigins []string
	TxLogPath      string        // empty disables the transaction log
	SubmitTimeout  time.Duration // how long POST /tx waits for its result
}

// Server handles REST API and WebSocket connections
type Server struct {
	exec   *market.Executor
	router *mux.Router
	hub    *Hub
	cfg    Config
	log    *zap.SugaredLogger
	txLog  *os.File
}

// NewServer creates a new API server and subscribes the websocket hub to
// engine events.
func NewServer(exec *market.Executor, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}

	var txLog *os.File
	if cfg.TxLogPath != "" {
		os.MkdirAll(filepath.Dir(cfg.TxLogPath), 0755)
		f, err := os.OpenFile(cfg.TxLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Warnw("tx_log_disabled", "path", cfg.TxLogPath, "err", err)
		} else {
			txLog = f
			log.Infow("tx_log_opened", "path", cfg.TxLogPath)
		}
	}

	s := &Server{
		exec:   exec,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		cfg:    cfg,
		log:    log,
		txLog:  txLog,
	}
	exec.View(func(e *market.Engine) { e.OnEvent(s.broadcastEvent) })

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Offer endpoints
	api.HandleFunc("/offers", s.handleListOffers).Methods("GET")
	api.HandleFunc("/offers/{assetId}", s.handleGetOffer).Methods("GET")
	api.HandleFunc("/offers/{assetId}/seller", s.handleCheckSeller).Methods("GET")
	api.HandleFunc("/offers/{assetId}/price", s.handleGetOfferPrice).Methods("GET")

	// Rates and configuration
	api.HandleFunc("/rates", s.handleGetRates).Methods("GET")
	api.HandleFunc("/rates/{rail}", s.handleGetRate).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/nonces/{address}", s.handleGetNonce).Methods("GET")

	// Signed transaction submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS and request metrics.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return metrics.InstrumentHandler(c.Handler(s.router))
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infow("api_listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if s.txLog != nil {
		s.txLog.Close()
	}
	return err
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	var resp []OfferInfo
	s.exec.View(func(e *market.Engine) {
		list := e.ListOffers()
		resp = make([]OfferInfo, len(list))
		for i, o := range list {
			resp[i] = offerInfo(e, o)
		}
	})
	respondJSON(w, resp)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := assetIDVar(w, r)
	if !ok {
		return
	}
	var (
		resp OfferInfo
		err  error
	)
	s.exec.View(func(e *market.Engine) {
		var o offer.SellOffer
		if o, err = e.GetOffer(id); err == nil {
			resp = offerInfo(e, o)
		}
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, resp)
}

func (s *Server) handleCheckSeller(w http.ResponseWriter, r *http.Request) {
	id, ok := assetIDVar(w, r)
	if !ok {
		return
	}
	var seller common.Address
	s.exec.View(func(e *market.Engine) { seller = e.CheckSeller(id) })
	respondJSON(w, SellerInfo{AssetID: id.Dec(), Seller: seller.Hex()})
}

func (s *Server) handleGetOfferPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := assetIDVar(w, r)
	if !ok {
		return
	}
	railID := r.URL.Query().Get("rail")
	if railID == "" {
		respondError(w, http.StatusBadRequest, "missing rail", "pass ?rail=<id>")
		return
	}
	var (
		amount *big.Int
		rail   oracle.Rail
		err    error
	)
	s.exec.View(func(e *market.Engine) {
		if amount, err = e.GetOfferPrice(r.Context(), id, railID); err != nil {
			return
		}
		rail, err = e.Rail(railID)
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, PriceInfo{AssetID: id.Dec(), Rail: railID, Amount: amount.String(), Decimals: rail.Decimals})
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	var resp []RateInfo
	s.exec.View(func(e *market.Engine) { resp = rateInfos(r.Context(), e) })
	respondJSON(w, resp)
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	railID := mux.Vars(r)["rail"]
	var (
		resp RateInfo
		err  error
	)
	s.exec.View(func(e *market.Engine) {
		var rail oracle.Rail
		if rail, err = e.Rail(railID); err != nil {
			return
		}
		resp = rateInfo(r.Context(), e, rail)
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	if resp.Error != "" {
		respondError(w, http.StatusServiceUnavailable, "oracle_unavailable", resp.Error)
		return
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	var resp ConfigInfo
	s.exec.View(func(e *market.Engine) {
		fee := e.Fee()
		resp = ConfigInfo{
			Market:       e.Self().Hex(),
			Owner:        e.Owner().Hex(),
			FeeRecipient: fee.Recipient.Hex(),
			FeeBps:       fee.RateBps,
			OfferTTL:     int64(e.TTL() / time.Second),
			Rails:        rateInfos(r.Context(), e),
		}
	})
	respondJSON(w, resp)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	var resp StateInfo
	s.exec.View(func(e *market.Engine) {
		resp.StateRoot = e.StateRoot().Hex()
		resp.OfferCount = e.OfferCount()
	})
	resp.Height = s.exec.Height()
	resp.MempoolSize = s.exec.Pending()
	respondJSON(w, resp)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: s.exec.Nonce(addr)})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}
	if !json.Valid(body) {
		respondError(w, http.StatusBadRequest, "invalid JSON transaction", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SubmitTimeout)
	defer cancel()
	res, err := s.exec.Submit(ctx, body)
	if err != nil {
		respondError(w, http.StatusGatewayTimeout, "transaction queued but not yet applied", err.Error())
		return
	}

	resp := TxResponse{
		Status:  "applied",
		Type:    string(res.Type),
		Height:  res.Height,
		Code:    res.Code(),
		Expired: res.Expired,
	}
	if res.Caller != (common.Address{}) {
		resp.Caller = res.Caller.Hex()
	}
	if res.Receipt != nil {
		resp.Receipt = receiptInfo(res.Receipt)
	}
	status := http.StatusOK
	if res.Err != nil {
		resp.Status = "rejected"
		resp.Error = res.Err.Error()
		status = statusFor(res.Err)
	}

	s.logTransaction(resp, len(body))
	respondStatusJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Conversions
// ==============================

func offerInfo(e *market.Engine, o offer.SellOffer) OfferInfo {
	exp := e.ExpiresAt(o)
	return OfferInfo{
		AssetID:        o.AssetID.Dec(),
		AssetContract:  o.AssetContract.Hex(),
		Kind:           o.Kind.String(),
		Quantity:       o.Quantity,
		ReferencePrice: o.ReferencePrice,
		Seller:         o.Seller.Hex(),
		CreatedAt:      o.CreatedAt.UnixMilli(),
		ExpiresAt:      exp.UnixMilli(),
		Expired:        !e.Now().Before(exp),
	}
}

func rateInfos(ctx context.Context, e *market.Engine) []RateInfo {
	rails := e.Rails()
	out := make([]RateInfo, len(rails))
	for i, rail := range rails {
		out[i] = rateInfo(ctx, e, rail)
	}
	return out
}

func rateInfo(ctx context.Context, e *market.Engine, rail oracle.Rail) RateInfo {
	info := RateInfo{
		Rail:     rail.ID,
		Kind:     rail.Kind.String(),
		Decimals: rail.Decimals,
		Pegged:   rail.Feed == nil,
	}
	if rail.Kind == oracle.TokenRail {
		info.Token = rail.Token.Hex()
	}
	rate, err := e.CurrentRate(ctx, rail.ID)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.UnitPrice = rate.FloatString(6)
	return info
}

func receiptInfo(rc *settlement.Receipt) *ReceiptInfo {
	return &ReceiptInfo{
		AssetID:   rc.AssetID.Dec(),
		Seller:    rc.Seller.Hex(),
		Buyer:     rc.Buyer.Hex(),
		Quantity:  rc.Quantity,
		Rail:      rc.Rail,
		UnitPrice: rc.UnitPrice.FloatString(6),
		Owed:      rc.Owed.String(),
		Fee:       rc.Fee.String(),
		Proceeds:  rc.Proceeds.String(),
		Refund:    rc.Refund.String(),
	}
}

// ==============================
// Helper Functions
// ==============================

// assetIDVar parses the {assetId} route variable, decimal or 0x-hex.
func assetIDVar(w http.ResponseWriter, r *http.Request) (uint256.Int, bool) {
	raw := mux.Vars(r)["assetId"]
	var (
		id  *uint256.Int
		err error
	)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		id, err = uint256.FromHex(raw)
	} else {
		id, err = uint256.FromDecimal(raw)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset id", err.Error())
		return uint256.Int{}, false
	}
	return *id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrBadSignature):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrDuplicateOffer), errors.Is(err, errs.ErrStaleNonce):
		return http.StatusConflict
	case errors.Is(err, errs.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrUnknownRail),
		errors.Is(err, errs.ErrUnknownAssetContract), errors.Is(err, errs.ErrDeadlineExceeded):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrInsufficientPayment), errors.Is(err, errs.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatusJSON(w, http.StatusOK, data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatusJSON(w, status, ErrorResponse{Error: error, Message: message})
}

func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), errs.Code(err), err.Error())
}

// logTransaction appends one JSON line per submitted transaction.
func (s *Server) logTransaction(resp TxResponse, size int) {
	if s.txLog == nil {
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"type":      resp.Type,
		"caller":    resp.Caller,
		"status":    resp.Status,
		"code":      resp.Code,
		"height":    resp.Height,
		"tx_bytes":  size,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		s.log.Warnw("tx_log_marshal_failed", "err", err)
		return
	}
	s.txLog.Write(append(line, '\n'))
}
