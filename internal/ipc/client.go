package ipc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// DefaultCallTimeout bounds calls made without a caller deadline.
const DefaultCallTimeout = 30 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}
	call := c.client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start requests the daemon to start processing.
func (c *Client) Start(ctx context.Context) (*StartResponse, error) {
	var resp StartResponse
	if err := c.call(ctx, "Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if err := c.call(ctx, "Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue submits a job.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResponse, error) {
	var resp EnqueueResponse
	if err := c.call(ctx, "Enqueue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(ctx context.Context, id string) (*Job, error) {
	var resp JobResponse
	if err := c.call(ctx, "Cancel", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// Get returns one job.
func (c *Client) Get(ctx context.Context, id string) (*Job, error) {
	var resp JobResponse
	if err := c.call(ctx, "Get", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// List returns jobs matching the request filter.
func (c *Client) List(ctx context.Context, req ListRequest) ([]Job, error) {
	var resp JobListResponse
	if err := c.call(ctx, "List", req, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Pending lists pending jobs in creation order.
func (c *Client) Pending(ctx context.Context) ([]Job, error) {
	var resp JobListResponse
	if err := c.call(ctx, "Pending", EmptyRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Running lists running jobs.
func (c *Client) Running(ctx context.Context) ([]Job, error) {
	var resp JobListResponse
	if err := c.call(ctx, "Running", EmptyRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Retry moves failed jobs back to pending.
func (c *Client) Retry(ctx context.Context, ids []string) (int64, error) {
	var resp CountResponse
	if err := c.call(ctx, "Retry", RetryRequest{IDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Purge deletes terminal jobs finished before the cutoff.
func (c *Client) Purge(ctx context.Context, before time.Time) (int64, error) {
	var resp CountResponse
	req := PurgeRequest{}
	if !before.IsZero() {
		req.Before = before.UTC().Format(time.RFC3339Nano)
	}
	if err := c.call(ctx, "Purge", req, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// QueueHealth returns queue diagnostics.
func (c *Client) QueueHealth(ctx context.Context) (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.call(ctx, "QueueHealth", EmptyRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth(ctx context.Context) (*DatabaseHealthReply, error) {
	var resp DatabaseHealthReply
	if err := c.call(ctx, "DatabaseHealth", EmptyRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterMedia records a media file under the media root.
func (c *Client) RegisterMedia(ctx context.Context, req RegisterMediaRequest) (*RegisterMediaReply, error) {
	var resp RegisterMediaReply
	if err := c.call(ctx, "RegisterMedia", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Media returns one media item with its labels.
func (c *Client) Media(ctx context.Context, id int64) (*MediaResponse, error) {
	var resp MediaResponse
	if err := c.call(ctx, "Media", MediaRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LinkLabels attaches tags or performers to a media item.
func (c *Client) LinkLabels(ctx context.Context, req LabelRequest) (*MediaResponse, error) {
	var resp MediaResponse
	if err := c.call(ctx, "LinkLabels", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Artifacts lists the ledger rows of a media item.
func (c *Client) Artifacts(ctx context.Context, mediaID int64) (*ArtifactListResponse, error) {
	var resp ArtifactListResponse
	if err := c.call(ctx, "Artifacts", MediaRequest{ID: mediaID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail reads lines from the daemon's active log.
func (c *Client) LogTail(ctx context.Context, req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.call(ctx, "LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
