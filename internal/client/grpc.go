package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockledger/internal/adapter/handler/pb"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/feed"
	"github.com/rl1809/stockledger/internal/port"
)

// GRPCClient reads pages, writes stock and watches changes over gRPC.
type GRPCClient struct {
	conn   *grpc.ClientConn
	ledger pb.LedgerClient
	actor  string
}

var _ port.ChangeFeed = (*GRPCClient)(nil)

// DialGRPC connects to addr without transport security. Extra options are
// applied after the defaults.
func DialGRPC(addr, actor string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial grpc %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, ledger: pb.NewLedgerClient(conn), actor: actor}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) ListItems(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error) {
	page, err := c.ledger.ListItems(ctx, &pb.ListItemsRequest{
		Page:     q.Page,
		PageSize: q.PageSize,
		Category: string(q.Category),
	})
	if err != nil {
		return domain.ItemPage{}, fromStatus(err)
	}
	return *page, nil
}

func (c *GRPCClient) UpdateStock(ctx context.Context, id string, upd domain.StockUpdate) (domain.Item, error) {
	if c.actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, pb.ActorMetadataKey, c.actor)
	}
	item, err := c.ledger.UpdateStock(ctx, &pb.UpdateStockRequest{
		ID:            id,
		CurrentStock:  upd.NewStock,
		ExpectedStock: upd.ExpectedStock,
	})
	if err != nil {
		return domain.Item{}, fromStatus(err)
	}
	return *item, nil
}

// Subscribe opens a Watch stream and returns once the server has
// subscribed.
func (c *GRPCClient) Subscribe(ctx context.Context, onEvent func(domain.ChangeEvent)) (port.Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := c.ledger.Watch(sctx, &pb.WatchRequest{})
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if _, err := stream.Header(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	sub := &watchSubscription{cancel: cancel, done: make(chan struct{})}
	go sub.run(sctx, stream, onEvent)
	return sub, nil
}

type watchSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *watchSubscription) run(ctx context.Context, stream pb.Ledger_WatchClient, onEvent func(domain.ChangeEvent)) {
	defer close(s.done)
	defer s.cancel()

	for {
		event, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = feed.ErrClosed
			} else if status.Code(err) == codes.ResourceExhausted {
				err = fmt.Errorf("%w: %s", feed.ErrLagged, status.Convert(err).Message())
			} else {
				err = fromStatus(err)
			}
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		if event.Validate() != nil {
			continue
		}
		onEvent(*event)
	}
}

func (s *watchSubscription) Unsubscribe() {
	s.cancel()
}

func (s *watchSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *watchSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrValidation, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, st.Message())
	case codes.Aborted:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, st.Message())
	default:
		return fmt.Errorf("grpc %s: %s", st.Code(), st.Message())
	}
}
