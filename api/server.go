package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/ledger"
	"github.com/lnledger/lnledger/record"
)

const (
	// shutdownTimeout bounds the drain of in-flight requests on Stop.
	shutdownTimeout = 5 * time.Second
)

// Config holds the API server's dependencies and settings.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string

	// Service is the payment service all requests are dispatched to.
	Service *ledger.Service
}

// Server is the HTTP gateway in front of the payment service. It validates
// requests, dispatches them and translates the ledger's errors into HTTP
// statuses. No payment logic lives here.
type Server struct {
	started sync.Once
	stopped sync.Once

	cfg Config

	httpServer *http.Server

	wg sync.WaitGroup
}

// NewServer constructs the API server and its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())

	router.GET("/health", s.health)
	router.GET("/metrics", prometheusHandler())

	v1 := router.Group("/v1")
	{
		v1.POST("/payments", s.createPayment)
		v1.POST("/payments/:id/settle", s.settlePayment)
		v1.GET("/payments", s.listPayments)
		v1.GET("/payments/settled", s.listSettledPayments)
		v1.GET("/payments/:id", s.getPayment)
		v1.GET("/payments/hash/:hash", s.getPaymentByHash)
		v1.GET("/payments/txid/:txid", s.getPaymentsByTxID)
		v1.GET("/events", s.streamEvents)
	}

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	return s
}

// Start begins serving requests.
func (s *Server) Start() error {
	s.started.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			log.Infof("API server listening on %v",
				s.cfg.ListenAddr)

			err := s.httpServer.ListenAndServe()
			if err != nil &&
				!errors.Is(err, http.ErrServerClosed) {

				log.Errorf("API server exited: %v", err)
			}
		}()
	})

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	var err error
	s.stopped.Do(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		err = s.httpServer.Shutdown(ctx)
		s.wg.Wait()
	})

	return err
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createPayment inserts a new payment record, with optional metadata.
func (s *Server) createPayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, meta, err := paymentFromRequest(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = s.cfg.Service.AddPayment(c.Request.Context(), payment, meta)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	recordPaymentAccepted(payment.Direction.String())

	c.JSON(http.StatusCreated, marshalPayment(&ledger.LedgerEntry{
		PaymentRecord: *payment,
		Metadata:      meta,
	}))
}

// settlePayment marks an existing payment as settled. The current payload is
// loaded first so the settlement only overwrites the fields the request
// carries.
func (s *Server) settlePayment(c *gin.Context) {
	id := c.Param("id")

	var req SettlePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	existing, err := s.cfg.Service.LookupPayment(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if existing.IsNone() {
		s.abortWithError(c, ledger.ErrPaymentNotFound)
		return
	}

	payment := existing.UnwrapOr(ledger.PaymentRecord{})
	payload := *payment.Payload

	payload.Status = record.StatusSettled
	switch req.Status {
	case "", "settled":
	case "failed":
		payload.Status = record.StatusFailed
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown status " + strconv.Quote(req.Status),
		})
		return
	}

	if req.Preimage != "" {
		var preimage [32]byte
		hash, err := ledger.MakeHashFromStr(req.Preimage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		copy(preimage[:], hash[:])

		payload.Preimage = fn.Some(preimage)
	}
	if req.FeeMsat != nil {
		payload.FeeMsat = *req.FeeMsat
	}

	// A failure is terminal but never a settlement: the payload is
	// rewritten without stamping a settlement timestamp, so the payment
	// stays out of settled listings and triggers no settlement webhook.
	if payload.Status == record.StatusFailed {
		err = s.cfg.Service.FailPayment(ctx, id, &payload)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
	} else {
		txID := fn.None[string]()
		if req.TxID != "" {
			txID = fn.Some(req.TxID)
		}

		err = s.cfg.Service.SettlePayment(ctx, id, txID, &payload)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		recordPaymentSettled(payment.Direction.String())
	}

	updated, err := s.cfg.Service.LookupPayment(ctx, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	payment = updated.UnwrapOr(payment)
	c.JSON(http.StatusOK, marshalRecord(&payment))
}

// getPayment looks up a single payment by id.
func (s *Server) getPayment(c *gin.Context) {
	payment, err := s.cfg.Service.LookupPayment(
		c.Request.Context(), c.Param("id"),
	)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	s.respondLookup(c, payment)
}

// getPaymentByHash looks up an incoming payment by its payment hash.
func (s *Server) getPaymentByHash(c *gin.Context) {
	hash, err := ledger.MakeHashFromStr(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := s.cfg.Service.LookupPaymentByHash(
		c.Request.Context(), hash,
	)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	s.respondLookup(c, payment)
}

// getPaymentsByTxID returns all payments funded by a transaction.
func (s *Server) getPaymentsByTxID(c *gin.Context) {
	payments, err := s.cfg.Service.LookupPaymentsByTxID(
		c.Request.Context(), c.Param("txid"),
	)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	result := make([]Payment, 0, len(payments))
	for i := range payments {
		result = append(result, marshalRecord(&payments[i]))
	}

	c.JSON(http.StatusOK, gin.H{"payments": result})
}

// listPayments returns a page of payments matching the query parameters.
func (s *Server) listPayments(c *gin.Context) {
	query, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.cfg.Service.ListPayments(c.Request.Context(), query)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshalPage(page))
}

// listSettledPayments returns a page of settled payments, the time range
// filtering on the settlement timestamp.
func (s *Server) listSettledPayments(c *gin.Context) {
	query, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.cfg.Service.ListSettledPayments(
		c.Request.Context(), query,
	)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshalPage(page))
}

// respondLookup renders a point lookup result, mapping an empty option to a
// 404 response.
func (s *Server) respondLookup(c *gin.Context,
	payment fn.Option[ledger.PaymentRecord]) {

	if payment.IsNone() {
		c.JSON(http.StatusNotFound, gin.H{
			"error": ledger.ErrPaymentNotFound.Error(),
		})
		return
	}

	p := payment.UnwrapOr(ledger.PaymentRecord{})
	c.JSON(http.StatusOK, marshalRecord(&p))
}

// abortWithError translates the ledger error taxonomy into HTTP statuses.
func (s *Server) abortWithError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, ledger.ErrPaymentNotFound):
		status = http.StatusNotFound

	case errors.Is(err, ledger.ErrDuplicatePaymentID),
		errors.Is(err, ledger.ErrDuplicatePaymentHash):

		status = http.StatusConflict

	case errors.Is(err, ledger.ErrInvalidQuery),
		errors.Is(err, ledger.ErrPaymentHashRequired):

		status = http.StatusBadRequest

	default:
		log.Errorf("Request %v %v failed: %v", c.Request.Method,
			c.Request.URL.Path, err)

		status = http.StatusInternalServerError
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// parseQuery builds a ledger query from the request's query parameters.
// Defaulting of unset fields is left to the service.
func parseQuery(c *gin.Context) (ledger.PaymentQuery, error) {
	var query ledger.PaymentQuery

	switch c.Query("direction") {
	case "":
	case "incoming":
		query.Direction = fn.Some(ledger.DirectionIncoming)
	case "outgoing":
		query.Direction = fn.Some(ledger.DirectionOutgoing)
	default:
		return query, errors.New("unknown direction " +
			strconv.Quote(c.Query("direction")))
	}

	if externalID := c.Query("external_id"); externalID != "" {
		query.ExternalID = fn.Some(externalID)
	}

	if from := c.Query("from"); from != "" {
		ms, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			return query, err
		}
		query.From = time.UnixMilli(ms).UTC()
	}
	if to := c.Query("to"); to != "" {
		ms, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			return query, err
		}
		query.To = time.UnixMilli(ms).UTC()
	}

	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.ParseInt(limit, 10, 32)
		if err != nil {
			return query, err
		}
		query.Limit = int32(n)
	}
	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.ParseInt(offset, 10, 32)
		if err != nil {
			return query, err
		}
		query.Offset = int32(n)
	}

	return query, nil
}

// marshalPage converts a query result into its JSON page form.
func marshalPage(page ledger.PaymentSlice) PaymentPage {
	payments := make([]Payment, 0, len(page.Payments))
	for i := range page.Payments {
		payments = append(payments, marshalPayment(&page.Payments[i]))
	}

	return PaymentPage{
		Payments: payments,
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
}
