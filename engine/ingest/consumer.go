package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/ami-rag/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// Subject is the NATS subject for ingestion requests.
	Subject = "ami.ingest"
	// Queue groups ingestion workers.
	Queue = "ami-ingest-workers"
)

// Request asks a worker to ingest URL. An empty Collection selects the
// worker's default.
type Request struct {
	URL        string `json:"url"`
	Collection string `json:"collection,omitempty"`
}

// Reply carries either the result or the failure of a Request.
type Reply struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	State  State   `json:"state,omitempty"`
}

// Handle runs req through the pipeline and builds its reply.
func (p *Pipeline) Handle(ctx context.Context, req Request, defaultCollection string) Reply {
	if req.URL == "" {
		return Reply{Error: "url is required", State: StateFailed}
	}
	collection := req.Collection
	if collection == "" {
		collection = defaultCollection
	}
	res, err := p.Ingest(ctx, req.URL, collection)
	if err != nil {
		state := StateFailed
		var ie *Error
		if errors.As(err, &ie) {
			state = ie.State
		}
		return Reply{Error: err.Error(), State: state}
	}
	return Reply{Result: &res, State: StateDone}
}

// StartConsumer serves ingestion requests on subject in the worker queue.
func StartConsumer(nc *nats.Conn, subject, defaultCollection string, timeout time.Duration, p *Pipeline, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Reply(nc, subject, Queue, timeout, func(ctx context.Context, req Request) Reply {
		log.Info("ingest: request received", "url", req.URL, "collection", req.Collection)
		return p.Handle(ctx, req, defaultCollection)
	})
}

// Client submits ingestion requests to the worker queue and waits for the
// reply. It satisfies the same Ingest signature as Pipeline.
type Client struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

// NewClient creates a Client. A zero timeout leaves the deadline to ctx.
func NewClient(nc *nats.Conn, subject string, timeout time.Duration) *Client {
	if subject == "" {
		subject = Subject
	}
	return &Client{nc: nc, subject: subject, timeout: timeout}
}

// Ingest asks a worker to ingest url into collection.
func (c *Client) Ingest(ctx context.Context, url, collection string) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	reply, err := natsutil.Request[Request, Reply](ctx, c.nc, c.subject, Request{URL: url, Collection: collection})
	if err != nil {
		return Result{}, fmt.Errorf("ingest: request %s: %w", c.subject, err)
	}
	if reply.Error != "" {
		return Result{}, fmt.Errorf("ingest: worker failed at %s: %s", reply.State, reply.Error)
	}
	if reply.Result == nil {
		return Result{}, fmt.Errorf("ingest: worker sent an empty reply for %s", url)
	}
	return *reply.Result, nil
}
