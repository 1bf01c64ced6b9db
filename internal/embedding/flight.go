package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v17/arrow/flight"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/bert-ruber/internal/metrics"
)

const (
	// DefaultFlightPort is the port of the embedding Flight endpoint.
	DefaultFlightPort = 3000

	// EncodeCommand is the DoExchange descriptor command understood by FlightService.
	EncodeCommand = "encode"
)

// FlightProvider encodes sentences through an Arrow Flight DoExchange: one
// record batch of texts goes out, one batch of FixedSizeList<float32>
// vectors comes back per request.
type FlightProvider struct {
	client  flight.Client
	addr    string
	dim     int
	timeout time.Duration
	mem     memory.Allocator
}

// NewFlightProvider prepares a client for host:port. Call Connect before Encode.
func NewFlightProvider(host string, port, dim int, timeout time.Duration) *FlightProvider {
	if port <= 0 {
		port = DefaultFlightPort
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FlightProvider{
		addr:    fmt.Sprintf("%s:%d", host, port),
		dim:     dim,
		timeout: timeout,
		mem:     memory.DefaultAllocator,
	}
}

// Connect establishes the gRPC channel to the Flight server.
func (fp *FlightProvider) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fp.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client for %s: %w", fp.addr, err)
	}
	fp.client = client
	return nil
}

func (fp *FlightProvider) Addr() string { return fp.addr }

func (fp *FlightProvider) Dim() int { return fp.dim }

// Close disconnects from the Flight server
func (fp *FlightProvider) Close() error {
	if fp.client != nil {
		err := fp.client.Close()
		fp.client = nil
		return err
	}
	return nil
}

func (fp *FlightProvider) Encode(ctx context.Context, sentences []string) ([]Vector, error) {
	if fp.client == nil {
		return nil, ErrNotConnected
	}
	if len(sentences) == 0 {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	vecs, err := fp.exchange(ctx, sentences)
	if err == nil {
		err = checkVectors(vecs, len(sentences), fp.dim)
	}
	metrics.RecordEmbedding("flight", len(sentences), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (fp *FlightProvider) exchange(ctx context.Context, sentences []string) ([]Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, fp.timeout)
	defer cancel()

	stream, err := fp.client.DoExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open DoExchange: %w", err)
	}

	rec := TextsToRecord(fp.mem, sentences)
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(fp.mem))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(EncodeCommand),
	})
	if err := writer.Write(rec); err != nil {
		return nil, fmt.Errorf("failed to write texts: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send side: %w", err)
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(fp.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}
	defer reader.Release()

	out := make([]Vector, 0, len(sentences))
	for reader.Next() {
		vecs, err := RecordToVectors(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}
	return out, nil
}
