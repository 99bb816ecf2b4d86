// Package rcsmock is a stand-in for the work-order receiver. It accepts
// orders on the receiver's path, records them, and answers the way the
// receiver does: {"status": "success", "received_data": <order>}. Used by `yardcam mock-rcs` and by
// end-to-end tests of the dispatch client.
package rcsmock

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/observability"
)

// Receiver paths.
const (
	AddTaskPath = "/ics/taskOrder/addTask"
	OrdersPath  = "/ics/taskOrder/orders"
)

// Reply status values.
const (
	StatusSuccess  = dispatch.DefaultSuccessValue
	StatusRejected = "rejected"
	StatusInvalid  = "invalid"
)

// Order is one received work order.
type Order struct {
	dispatch.WorkOrder
	Accepted   bool      `json:"accepted"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type reply struct {
	Status       string              `json:"status"`
	ReceivedData *dispatch.WorkOrder `json:"received_data,omitempty"`
	Desc         string              `json:"desc,omitempty"`
}

// Receiver records work orders.
//
// Thread-safety: Receiver is safe for concurrent use.
type Receiver struct {
	logger    *slog.Logger
	failEvery int
	delay     time.Duration
	router    *gin.Engine

	mu     sync.Mutex
	orders []Order
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Receiver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFailEvery rejects every nth order with StatusRejected. 0 accepts all.
func WithFailEvery(n int) Option {
	return func(r *Receiver) { r.failEvery = n }
}

// WithDelay holds every reply for d, to exercise client timeouts.
func WithDelay(d time.Duration) Option {
	return func(r *Receiver) { r.delay = d }
}

// New creates a receiver with its routes registered.
func New(opts ...Option) *Receiver {
	r := &Receiver{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	observability.RegisterMetrics()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(r.logger))
	router.Use(observability.RequestMetricsMiddleware("rcs-mock"))
	router.POST(AddTaskPath, r.addTask)
	router.GET(OrdersPath, r.listOrders)
	r.router = router
	return r
}

// Handler returns the HTTP handler.
func (r *Receiver) Handler() http.Handler { return r.router }

// Orders returns the received orders in arrival order.
func (r *Receiver) Orders() []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Order(nil), r.orders...)
}

func (r *Receiver) addTask(c *gin.Context) {
	var order dispatch.WorkOrder
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if order.OrderID == "" || len(order.TaskOrderDetail) == 0 {
		r.logger.Warn("order rejected: incomplete", "order_id", order.OrderID)
		c.JSON(http.StatusOK, reply{Status: StatusInvalid, Desc: "orderId and taskOrderDetail are required"})
		return
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-c.Request.Context().Done():
			return
		}
	}

	r.mu.Lock()
	n := len(r.orders) + 1
	accepted := r.failEvery <= 0 || n%r.failEvery != 0
	r.orders = append(r.orders, Order{WorkOrder: order, Accepted: accepted, ReceivedAt: time.Now()})
	r.mu.Unlock()

	paths := make([]string, 0, len(order.TaskOrderDetail))
	for _, d := range order.TaskOrderDetail {
		paths = append(paths, d.TaskPath)
	}
	r.logger.Info("order received",
		"order_id", order.OrderID,
		"task_paths", paths,
		"model_process_code", order.ModelProcessCode,
		"accepted", accepted,
	)

	if !accepted {
		c.JSON(http.StatusOK, reply{Status: StatusRejected, Desc: "rejected by mock"})
		return
	}
	c.JSON(http.StatusOK, reply{Status: StatusSuccess, ReceivedData: &order})
}

func (r *Receiver) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": r.Orders()})
}

// Serve listens on addr until ctx is cancelled.
func (r *Receiver) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("mock receiver listening", "addr", addr, "path", AddTaskPath, "fail_every", r.failEvery)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
