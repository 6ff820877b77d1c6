package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockledger/internal/adapter/handler/pb"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/core/service"
	"github.com/rl1809/stockledger/internal/feed"
	"github.com/rl1809/stockledger/internal/port"
)

type GRPCHandler struct {
	ledger *service.LedgerService
	feed   port.ChangeFeed
	logger *slog.Logger
}

var _ pb.LedgerServer = (*GRPCHandler)(nil)

func NewGRPCHandler(ledger *service.LedgerService, changes port.ChangeFeed, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{ledger: ledger, feed: changes, logger: logger}
}

func (h *GRPCHandler) ListItems(ctx context.Context, req *pb.ListItemsRequest) (*domain.ItemPage, error) {
	q := domain.ItemQuery{Page: req.Page, PageSize: req.PageSize}
	if q.PageSize == 0 {
		q.PageSize = domain.DefaultPageSize
	}
	if req.Category != "" {
		c, err := domain.ParseCategory(req.Category)
		if err != nil {
			return nil, toStatus(err)
		}
		q.Category = c
	}

	page, err := h.ledger.ListItems(ctx, q)
	if err != nil {
		return nil, h.fail("ListItems", err)
	}
	return &page, nil
}

func (h *GRPCHandler) UpdateStock(ctx context.Context, req *pb.UpdateStockRequest) (*domain.Item, error) {
	upd := domain.StockUpdate{NewStock: req.CurrentStock, ExpectedStock: req.ExpectedStock}
	item, err := h.ledger.UpdateStock(ctx, req.ID, upd, actorFromMetadata(ctx))
	if err != nil {
		return nil, h.fail("UpdateStock", err)
	}
	return &item, nil
}

// Watch streams change events until the client goes away or falls behind.
func (h *GRPCHandler) Watch(_ *pb.WatchRequest, stream pb.Ledger_WatchServer) error {
	if h.feed == nil {
		return status.Error(codes.Unimplemented, "change feed not configured")
	}
	ctx := stream.Context()

	send := make(chan domain.ChangeEvent)
	sub, err := h.feed.Subscribe(ctx, func(event domain.ChangeEvent) {
		select {
		case send <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return h.fail("Watch", err)
	}
	defer sub.Unsubscribe()

	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	for {
		select {
		case event := <-send:
			if err := stream.Send(&event); err != nil {
				return err
			}
		case <-sub.Done():
			if errors.Is(sub.Err(), feed.ErrLagged) {
				return status.Error(codes.ResourceExhausted, sub.Err().Error())
			}
			return status.Error(codes.Unavailable, "change feed closed")
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

func (h *GRPCHandler) fail(method string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		h.logger.Error("grpc call failed", "method", method, "error", err)
	}
	return st
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func actorFromMetadata(ctx context.Context) *string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	values := md.Get(pb.ActorMetadataKey)
	if len(values) == 0 {
		return nil
	}
	a := strings.TrimSpace(values[0])
	if a == "" {
		return nil
	}
	return &a
}
