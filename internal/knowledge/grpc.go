package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// SearchMethod is the full gRPC method name of the knowledge search service.
const SearchMethod = "/knowledge.v1.KnowledgeBase/Search"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcSearcher searches a knowledge service over gRPC. Requests and responses are
// google.protobuf.Struct messages.
type GrpcSearcher struct {
	conn           *grpc.ClientConn
	addr           string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// GrpcSearcherConfig holds connection settings for the gRPC searcher.
type GrpcSearcherConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcSearcherConfig returns default configuration for addr.
func DefaultGrpcSearcherConfig(addr string) GrpcSearcherConfig {
	return GrpcSearcherConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   15 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcSearcher connects to the knowledge service and waits until it is ready.
func NewGrpcSearcher(cfg GrpcSearcherConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcSearcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to knowledge service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("knowledge service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to knowledge service", "address", cfg.Address)

	return &GrpcSearcher{
		conn:           conn,
		addr:           cfg.Address,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (s *GrpcSearcher) Close() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Search runs query against the vector store.
func (s *GrpcSearcher) Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]Result, error) {
	req, err := structpb.NewStruct(map[string]any{
		"vector_store_id": vectorStoreID,
		"query":           query,
		"max_num_results": maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, SearchMethod, req, resp); err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	return resultsFromStruct(resp), nil
}

func resultsFromStruct(resp *structpb.Struct) []Result {
	list := resp.GetFields()["results"].GetListValue().GetValues()
	results := make([]Result, 0, len(list))
	for _, v := range list {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			continue
		}
		results = append(results, Result{
			FileID:   fields["file_id"].GetStringValue(),
			Filename: fields["filename"].GetStringValue(),
			Score:    fields["score"].GetNumberValue(),
			Text:     fields["text"].GetStringValue(),
		})
	}
	return results
}
